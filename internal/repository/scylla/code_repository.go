package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/util"
)

// activeCodeScanLimit bounds how many recent rows are scanned when looking
// for the active code. Per-identity cardinality is small; old rows expire.
const activeCodeScanLimit = 20

// CodeRepository persists verification codes. Rows are partitioned by
// (email, purpose) and clustered newest-first, so the active code is always
// among the first few rows of the partition.
type CodeRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewCodeRepository(client *ScyllaClient, logger *zap.Logger) *CodeRepository {
	return &CodeRepository{
		client: client,
		logger: logger,
	}
}

// Create persists a new verification code row.
func (r *CodeRepository) Create(ctx context.Context, code *model.VerificationCode) error {
	if code.CodeID == "" {
		code.CodeID = uuid.New().String()
	}

	query := r.client.Prepared.CreateCode.WithContext(ctx).Bind(
		code.Email, string(code.Purpose), code.CreatedAt, code.CodeID,
		code.Code, code.UserID, code.IsUsed, code.Attempts, code.ExpiresAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		r.logger.Error("Failed to create verification code",
			util.String("email", code.Email),
			util.String("purpose", string(code.Purpose)),
			util.ErrorField(err))
		return fmt.Errorf("failed to create verification code: %w", err)
	}

	r.logger.Info("Verification code created",
		util.String("email", code.Email),
		util.String("purpose", string(code.Purpose)),
		util.String("code_id", code.CodeID),
		zap.Time("expires_at", code.ExpiresAt))

	return nil
}

// LatestActive returns the most-recently-created unused, unexpired code for
// (email, purpose), or repository.ErrNotFound.
func (r *CodeRepository) LatestActive(ctx context.Context, email string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error) {
	iter := r.client.Prepared.LatestCodes.WithContext(ctx).
		Bind(email, string(purpose), activeCodeScanLimit).Iter()

	var code model.VerificationCode
	var purposeStr string
	for iter.Scan(&code.Email, &purposeStr, &code.CreatedAt, &code.CodeID,
		&code.Code, &code.UserID, &code.IsUsed, &code.Attempts, &code.ExpiresAt) {
		code.Purpose = model.Purpose(purposeStr)
		if !code.IsUsed && !code.Expired(now) {
			if err := iter.Close(); err != nil {
				return nil, fmt.Errorf("failed to query verification codes: %w", err)
			}
			found := code
			return &found, nil
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to query verification codes: %w", err)
	}

	return nil, repository.ErrNotFound
}

// LatestCreatedAt returns the creation time of the newest code for
// (email, purpose) regardless of state, for the send-rate window. Returns
// repository.ErrNotFound when the partition is empty.
func (r *CodeRepository) LatestCreatedAt(ctx context.Context, email string, purpose model.Purpose) (time.Time, error) {
	iter := r.client.Prepared.LatestCodes.WithContext(ctx).
		Bind(email, string(purpose), 1).Iter()

	var code model.VerificationCode
	var purposeStr string
	if iter.Scan(&code.Email, &purposeStr, &code.CreatedAt, &code.CodeID,
		&code.Code, &code.UserID, &code.IsUsed, &code.Attempts, &code.ExpiresAt) {
		if err := iter.Close(); err != nil {
			return time.Time{}, fmt.Errorf("failed to query verification codes: %w", err)
		}
		return code.CreatedAt, nil
	}
	if err := iter.Close(); err != nil {
		return time.Time{}, fmt.Errorf("failed to query verification codes: %w", err)
	}

	return time.Time{}, repository.ErrNotFound
}

// MarkUsed flips is_used false->true with a lightweight transaction. Under
// N concurrent redemptions of the same code, exactly one caller gets
// Redeemed; the rest get AlreadyRedeemed.
func (r *CodeRepository) MarkUsed(ctx context.Context, code *model.VerificationCode) (repository.RedeemOutcome, error) {
	prev := make(map[string]interface{})
	applied, err := r.client.Prepared.MarkCodeUsed.WithContext(ctx).
		Bind(code.Email, string(code.Purpose), code.CreatedAt, code.CodeID).
		MapScanCAS(prev)
	if err != nil && err != gocql.ErrNotFound {
		r.logger.Error("Failed to mark verification code used",
			util.String("code_id", code.CodeID),
			util.ErrorField(err))
		return repository.AlreadyRedeemed, fmt.Errorf("failed to mark code used: %w", err)
	}

	if !applied {
		return repository.AlreadyRedeemed, nil
	}

	r.logger.Info("Verification code redeemed",
		util.String("email", code.Email),
		util.String("code_id", code.CodeID))

	return repository.Redeemed, nil
}

// IncrementAttempts records one more failed guess against the code. A lost
// race here can only under-count, which is safe: the ceiling is checked
// before redemption and attempts never decrease.
func (r *CodeRepository) IncrementAttempts(ctx context.Context, code *model.VerificationCode) error {
	query := r.client.Prepared.BumpAttempts.WithContext(ctx).Bind(
		code.Attempts+1, code.Email, string(code.Purpose), code.CreatedAt, code.CodeID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		r.logger.Error("Failed to increment code attempts",
			util.String("code_id", code.CodeID),
			util.ErrorField(err))
		return fmt.Errorf("failed to increment code attempts: %w", err)
	}

	code.Attempts++
	return nil
}
