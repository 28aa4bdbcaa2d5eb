// Package redis holds the session registry. Session tokens are
// self-validating, so the registry's job is revocation: a token whose id is
// absent here is treated as logged out even before it expires.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"authcore/internal/client"
	"authcore/internal/util"
)

const sessionPrefix = "session:"

// SessionCache tracks active sessions keyed by token id.
type SessionCache struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewSessionCache(client *client.RedisClient, logger *zap.Logger) *SessionCache {
	return &SessionCache{
		client: client,
		logger: logger,
	}
}

// Store registers a freshly issued session until its token expires.
func (c *SessionCache) Store(ctx context.Context, tokenID, userID string, ttl time.Duration) error {
	key := sessionPrefix + tokenID
	if err := c.client.Set(ctx, key, userID, ttl); err != nil {
		c.logger.Error("Failed to store session",
			util.String("token_id", tokenID),
			util.String("user_id", userID),
			util.ErrorField(err))
		return fmt.Errorf("failed to store session: %w", err)
	}

	c.logger.Debug("Session stored",
		util.String("token_id", tokenID),
		util.String("user_id", userID),
		util.Duration("ttl", ttl))

	return nil
}

// IsActive reports whether the session is still registered.
func (c *SessionCache) IsActive(ctx context.Context, tokenID string) (bool, error) {
	exists, err := c.client.Exists(ctx, sessionPrefix+tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

// Revoke removes the session, invalidating the token for the rest of its
// lifetime.
func (c *SessionCache) Revoke(ctx context.Context, tokenID string) error {
	if err := c.client.Del(ctx, sessionPrefix+tokenID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	c.logger.Info("Session revoked", util.String("token_id", tokenID))
	return nil
}

// Owner returns the user id bound to the session, or an empty string when
// the session is gone.
func (c *SessionCache) Owner(ctx context.Context, tokenID string) (string, error) {
	userID, err := c.client.Get(ctx, sessionPrefix+tokenID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up session owner: %w", err)
	}
	return userID, nil
}
