// Package token mints and verifies session tokens. Issuance never touches
// the datastore; it is a pure function of (user, clock, key, ttl).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authcore/internal/clock"
	"authcore/internal/model"
)

const minKeyBytes = 32

var (
	ErrKeyTooShort  = errors.New("signing key must be at least 32 bytes")
	ErrInvalidToken = errors.New("invalid session token")
)

// SessionClaims is the payload carried by a session token.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issuer signs session tokens with HMAC-SHA256.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer validates the key material at construction. Keys shorter than
// 32 bytes are rejected here, never at issuance time.
func NewIssuer(key []byte, issuer string, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("%w: got %d", ErrKeyTooShort, len(key))
	}
	if ttl <= 0 {
		return nil, errors.New("session TTL must be positive")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl, clock: clk}, nil
}

// Session is a minted token together with its identifiers.
type Session struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue mints a signed session token for the resolved user.
func (i *Issuer) Issue(user *model.User) (*Session, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)
	tokenID := uuid.New().String()

	claims := SessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{
		Token:     signed,
		TokenID:   tokenID,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// Parse verifies the signature and expiry of a session token and returns
// its claims.
func (i *Issuer) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.key, nil
		},
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL exposes the configured session lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
