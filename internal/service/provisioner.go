package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/util"
)

// ProvisionPath tags how Ensure arrived at the returned user, so callers
// and audit logging can distinguish a lookup from a first-login creation
// and from a lost creation race.
type ProvisionPath string

const (
	// ProvisionFound means the user already existed under the external id.
	ProvisionFound ProvisionPath = "found"
	// ProvisionCreated means this call inserted the user record.
	ProvisionCreated ProvisionPath = "created"
	// ProvisionReconciled means a concurrent caller created the record
	// first and this call adopted it.
	ProvisionReconciled ProvisionPath = "reconciled"
)

// ProvisionResult is the outcome of an Ensure call.
type ProvisionResult struct {
	User *model.User
	Path ProvisionPath
}

// UserProvisioner creates local user records on first login against an
// external identity, and resolves creation races against the storage
// layer's conditional inserts.
type UserProvisioner struct {
	users  UserRepository
	clock  clock.Clock
	logger *zap.Logger
}

func NewUserProvisioner(users UserRepository, clk clock.Clock, logger *zap.Logger) *UserProvisioner {
	return &UserProvisioner{users: users, clock: clk, logger: logger}
}

// Ensure returns the local user for (externalID, email), creating it when
// absent. Two concurrent calls for the same identity converge on a single
// record: the loser of the insert race re-reads and adopts the winner's
// row. An email already bound to a different external id is rejected
// rather than silently rebound.
func (p *UserProvisioner) Ensure(ctx context.Context, externalID, email string, emailVerified bool) (*ProvisionResult, error) {
	existing, err := p.users.GetByID(ctx, externalID)
	if err == nil {
		return &ProvisionResult{User: existing, Path: ProvisionFound}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.Internal(err)
	}

	now := p.clock.Now()
	user := &model.User{
		ID:            externalID,
		Email:         email,
		Name:          displayNameFromEmail(email),
		Status:        model.StatusActive,
		EmailVerified: emailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = p.users.Create(ctx, user)
	if err == nil {
		p.logger.Info("Provisioned user on first login",
			util.String("user_id", user.ID),
			util.String("email", email))
		return &ProvisionResult{User: user, Path: ProvisionCreated}, nil
	}
	if !errors.Is(err, repository.ErrAlreadyExists) {
		return nil, autherr.Wrap(autherr.KindProvisioning, "provisioning_failed", "failed to provision user", err)
	}

	// Lost the insert race, or the email is claimed by another identity.
	// A successful re-read by id means a concurrent call won with the same
	// identity; a row under the email with a different id means a genuine
	// conflict.
	existing, err = p.users.GetByID(ctx, externalID)
	if err == nil {
		return &ProvisionResult{User: existing, Path: ProvisionReconciled}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.Internal(err)
	}

	byEmail, err := p.users.GetByEmail(ctx, email)
	if err == nil {
		if byEmail.ID != externalID {
			p.logger.Warn("Email bound to a different identity",
				util.String("email", email),
				util.String("requested_id", externalID),
				util.String("bound_id", byEmail.ID))
			return nil, autherr.ErrIdentityMismatch
		}
		return &ProvisionResult{User: byEmail, Path: ProvisionReconciled}, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		// The insert reported a conflict but neither lookup finds a row.
		return nil, autherr.ErrProvisioningFailed
	}
	return nil, autherr.Internal(err)
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
