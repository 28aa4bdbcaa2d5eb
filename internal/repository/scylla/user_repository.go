package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"authcore/internal/bucketing"
	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/util"
)

// UserRepository persists local user records. Uniqueness of both id and
// email is enforced with lightweight transactions; the repository never
// takes in-process locks.
type UserRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.Manager
	logger    *zap.Logger
}

func NewUserRepository(client *ScyllaClient, bucketing *bucketing.Manager, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		bucketing: bucketing,
		logger:    logger,
	}
}

// Create inserts a new user, claiming the email first. Returns
// repository.ErrAlreadyExists when either the email or the id is taken.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	bucket := r.bucketing.UserBucket(user.ID)

	prev := make(map[string]interface{})
	applied, err := r.client.Prepared.ClaimEmail.WithContext(ctx).
		Bind(user.Email, user.ID, bucket, user.CreatedAt).
		MapScanCAS(prev)
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		claimedID, _ := prev["user_id"].(string)
		if claimedID != user.ID {
			return fmt.Errorf("email %s already claimed: %w", user.Email, repository.ErrAlreadyExists)
		}
	}

	prev = make(map[string]interface{})
	applied, err = r.client.Prepared.CreateUser.WithContext(ctx).
		Bind(bucket, user.ID, user.Email, user.Name, user.PasswordHash,
			string(user.Status), user.EmailVerified, user.LastLoginAt,
			user.CreatedAt, user.UpdatedAt).
		MapScanCAS(prev)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !applied {
		return fmt.Errorf("user id %s already exists: %w", user.ID, repository.ErrAlreadyExists)
	}

	r.logger.Info("User created",
		util.String("user_id", user.ID),
		util.String("email", user.Email),
		util.Int("user_bucket", bucket))

	return nil
}

// GetByID returns the user with the given id, or repository.ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	bucket := r.bucketing.UserBucket(id)

	user := &model.User{}
	var statusStr string
	err := r.client.Prepared.GetUserByID.WithContext(ctx).
		Bind(bucket, id).
		Scan(&bucket, &user.ID, &user.Email, &user.Name, &user.PasswordHash,
			&statusStr, &user.EmailVerified, &user.LastLoginAt,
			&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		r.logger.Error("Failed to get user by id",
			util.String("user_id", id),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	user.Status = model.UserStatus(statusStr)

	return user, nil
}

// GetByEmail resolves the email owner through the lookup table, then loads
// the user row.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var userID string
	var bucket int
	err := r.client.Prepared.GetEmailOwner.WithContext(ctx).
		Bind(email).
		Scan(&userID, &bucket)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve email owner: %w", err)
	}

	return r.GetByID(ctx, userID)
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	bucket := r.bucketing.UserBucket(id)

	query := r.client.Prepared.UpdateLastLogin.WithContext(ctx).Bind(at, at, bucket, id)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	bucket := r.bucketing.UserBucket(id)

	query := r.client.Prepared.UpdatePassword.WithContext(ctx).Bind(passwordHash, at, bucket, id)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	r.logger.Info("User password updated", util.String("user_id", id))
	return nil
}

// MarkEmailVerified records that the user proved control of their email.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	bucket := r.bucketing.UserBucket(id)

	query := r.client.Prepared.VerifyEmail.WithContext(ctx).Bind(true, at, bucket, id)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}
