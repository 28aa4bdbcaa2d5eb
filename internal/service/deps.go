package service

import (
	"context"
	"time"

	"authcore/internal/model"
	"authcore/internal/repository"
)

// The services depend on narrow interfaces rather than concrete storage
// types, so tests can substitute in-memory fakes.

// CodeRepository is the persistence surface for verification codes.
type CodeRepository interface {
	Create(ctx context.Context, code *model.VerificationCode) error
	LatestActive(ctx context.Context, email string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error)
	LatestCreatedAt(ctx context.Context, email string, purpose model.Purpose) (time.Time, error)
	MarkUsed(ctx context.Context, code *model.VerificationCode) (repository.RedeemOutcome, error)
	IncrementAttempts(ctx context.Context, code *model.VerificationCode) error
}

// UserRepository is the persistence surface for local user records.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// LoginLogRepository is the append-only audit trail.
type LoginLogRepository interface {
	Insert(ctx context.Context, entry *model.LoginLog) error
	CountFailedSince(ctx context.Context, email string, since time.Time) (int, error)
}

// Dispatcher hands an issued code to the delivery channel. A false return
// means the code never reached the recipient.
type Dispatcher interface {
	Send(to string, purpose model.Purpose, code string) bool
}

// EventPublisher streams audit events to the message broker.
type EventPublisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// EventIndexer indexes audit events for operational search.
type EventIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// SessionRegistry tracks which issued tokens are still valid.
type SessionRegistry interface {
	Store(ctx context.Context, tokenID, userID string, ttl time.Duration) error
	IsActive(ctx context.Context, tokenID string) (bool, error)
	Owner(ctx context.Context, tokenID string) (string, error)
	Revoke(ctx context.Context, tokenID string) error
}

// PasswordHasher is the vetted password primitive; this core never
// implements hashing itself.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}
