package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/util"
)

// VerificationCodeService generates, stores, and validates one-time codes.
type VerificationCodeService struct {
	codes       CodeRepository
	dispatcher  Dispatcher
	clock       clock.Clock
	logger      *zap.Logger
	codeTTL     time.Duration
	maxAttempts int
}

func NewVerificationCodeService(
	codes CodeRepository,
	dispatcher Dispatcher,
	clk clock.Clock,
	logger *zap.Logger,
	codeTTL time.Duration,
	maxAttempts int,
) *VerificationCodeService {
	return &VerificationCodeService{
		codes:       codes,
		dispatcher:  dispatcher,
		clock:       clk,
		logger:      logger,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
	}
}

// CodeIssued describes a freshly issued code. The code itself travels only
// through the dispatcher, never back to the API caller.
type CodeIssued struct {
	CodeID    string        `json:"code_id"`
	Email     string        `json:"email"`
	Purpose   model.Purpose `json:"purpose"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ValidationStatus tags the outcome of a validation attempt.
type ValidationStatus int

const (
	ValidationValid ValidationStatus = iota
	ValidationInvalid
	ValidationTooManyAttempts
)

// ValidationOutcome is the result of one Validate call. UserID carries the
// weak user reference recorded at issuance, when there was one.
type ValidationOutcome struct {
	Status ValidationStatus
	UserID string
}

// Issue generates a 6-digit code, persists it, and hands it to the
// dispatcher. When dispatch fails the persisted row remains; it simply
// expires unused.
func (s *VerificationCodeService) Issue(ctx context.Context, email string, purpose model.Purpose, userID string) (*CodeIssued, error) {
	code, err := generateCode()
	if err != nil {
		return nil, autherr.Internal(fmt.Errorf("failed to generate code: %w", err))
	}

	now := s.clock.Now()
	row := &model.VerificationCode{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		UserID:    userID,
		Attempts:  0,
		IsUsed:    false,
		ExpiresAt: now.Add(s.codeTTL),
		CreatedAt: now,
	}

	if err := s.codes.Create(ctx, row); err != nil {
		return nil, autherr.Internal(err)
	}

	if !s.dispatcher.Send(email, purpose, code) {
		return nil, autherr.ErrDispatchFailed
	}

	return &CodeIssued{
		CodeID:    row.CodeID,
		Email:     email,
		Purpose:   purpose,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Validate checks a supplied code against the active row for
// (email, purpose). Redemption goes through the repository's conditional
// update; under concurrent calls with the same correct code exactly one
// caller sees ValidationValid.
func (s *VerificationCodeService) Validate(ctx context.Context, email, supplied string, purpose model.Purpose) (*ValidationOutcome, error) {
	row, err := s.codes.LatestActive(ctx, email, purpose, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ValidationOutcome{Status: ValidationInvalid}, nil
		}
		return nil, autherr.Internal(err)
	}

	// The ceiling applies even when the guess would be correct; a code
	// that has absorbed maxAttempts failures is burned.
	if row.Attempts >= s.maxAttempts {
		return &ValidationOutcome{Status: ValidationTooManyAttempts}, nil
	}

	if row.Code != supplied {
		if err := s.codes.IncrementAttempts(ctx, row); err != nil {
			s.logger.Warn("Failed to record code attempt",
				util.String("email", email),
				util.ErrorField(err))
		}
		return &ValidationOutcome{Status: ValidationInvalid}, nil
	}

	outcome, err := s.codes.MarkUsed(ctx, row)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if outcome == repository.AlreadyRedeemed {
		// Lost the race; the code was consumed by a concurrent caller.
		return &ValidationOutcome{Status: ValidationInvalid}, nil
	}

	s.logger.Info("Verification code validated",
		util.String("email", email),
		util.String("purpose", string(purpose)),
		util.String("code_id", row.CodeID))

	return &ValidationOutcome{Status: ValidationValid, UserID: row.UserID}, nil
}

// generateCode draws a uniformly random 6-digit code from
// [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
