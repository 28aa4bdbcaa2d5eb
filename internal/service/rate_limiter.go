package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/util"
)

// RateLimiter derives send-frequency and failed-login windows from stored
// history. There is no separate mutable counter; the windows self-clear as
// time passes. The checks are deliberately not atomic with the writes that
// produce the counted rows — two concurrent requests can both pass before
// either record lands, which is an accepted best-effort limitation.
type RateLimiter struct {
	codes            CodeRepository
	logs             LoginLogRepository
	clock            clock.Clock
	logger           *zap.Logger
	sendWindow       time.Duration
	lockoutWindow    time.Duration
	lockoutThreshold int
}

func NewRateLimiter(
	codes CodeRepository,
	logs LoginLogRepository,
	clk clock.Clock,
	logger *zap.Logger,
	sendWindow, lockoutWindow time.Duration,
	lockoutThreshold int,
) *RateLimiter {
	return &RateLimiter{
		codes:            codes,
		logs:             logs,
		clock:            clk,
		logger:           logger,
		sendWindow:       sendWindow,
		lockoutWindow:    lockoutWindow,
		lockoutThreshold: lockoutThreshold,
	}
}

// CheckSendRate denies a code issuance when the newest code for
// (email, purpose) was created within the send window. The returned error
// carries the remaining wait.
func (r *RateLimiter) CheckSendRate(ctx context.Context, email string, purpose model.Purpose) error {
	createdAt, err := r.codes.LatestCreatedAt(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return autherr.Internal(err)
	}

	elapsed := r.clock.Now().Sub(createdAt)
	if elapsed < r.sendWindow {
		retryAfter := r.sendWindow - elapsed
		r.logger.Info("Send rate exceeded",
			util.String("email", email),
			util.String("purpose", string(purpose)),
			util.Duration("retry_after", retryAfter))
		return autherr.SendRateLimited(retryAfter)
	}

	return nil
}

// CheckLoginAttempts denies a login when the trailing window holds too
// many failed attempts. The lockout is transient: no flag is persisted, so
// it clears as the window slides.
func (r *RateLimiter) CheckLoginAttempts(ctx context.Context, email string) error {
	since := r.clock.Now().Add(-r.lockoutWindow)
	count, err := r.logs.CountFailedSince(ctx, email, since)
	if err != nil {
		return autherr.Internal(err)
	}

	if count >= r.lockoutThreshold {
		r.logger.Warn("Login attempts locked out",
			util.String("email", email),
			util.Int("failed_count", count))
		return autherr.ErrAccountLocked
	}

	return nil
}
