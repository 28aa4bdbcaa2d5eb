package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/repository"
)

func newProvisioner(users UserRepository) *UserProvisioner {
	clk := clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewUserProvisioner(users, clk, zap.NewNop())
}

func TestEnsureFindsExistingUser(t *testing.T) {
	users := newFakeUserRepo()
	require.NoError(t, users.Create(context.Background(), &model.User{
		ID:    "ext-1",
		Email: "alice@example.com",
	}))
	provisioner := newProvisioner(users)

	result, err := provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, ProvisionFound, result.Path)
	assert.Equal(t, "ext-1", result.User.ID)
}

func TestEnsureCreatesOnFirstLogin(t *testing.T) {
	users := newFakeUserRepo()
	provisioner := newProvisioner(users)

	result, err := provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, ProvisionCreated, result.Path)
	assert.Equal(t, "ext-1", result.User.ID)
	assert.Equal(t, "alice", result.User.Name)
	assert.Equal(t, model.StatusActive, result.User.Status)
	assert.True(t, result.User.EmailVerified)

	stored, err := users.GetByID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Email)
}

// racingUserRepo misses the first GetByID, then inserts a competing row
// before the caller's Create runs, reproducing a lost creation race.
type racingUserRepo struct {
	*fakeUserRepo
	missed bool
}

func (r *racingUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	if !r.missed {
		r.missed = true
		return nil, repository.ErrNotFound
	}
	return r.fakeUserRepo.GetByID(ctx, id)
}

func (r *racingUserRepo) Create(ctx context.Context, user *model.User) error {
	r.fakeUserRepo.Create(ctx, &model.User{ID: user.ID, Email: user.Email})
	return repository.ErrAlreadyExists
}

func TestEnsureReconcilesLostRace(t *testing.T) {
	users := &racingUserRepo{fakeUserRepo: newFakeUserRepo()}
	provisioner := newProvisioner(users)

	result, err := provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, ProvisionReconciled, result.Path)
	assert.Equal(t, "ext-1", result.User.ID)
}

func TestEnsureConcurrentCallsConvergeOnOneRecord(t *testing.T) {
	users := newFakeUserRepo()
	provisioner := newProvisioner(users)

	const callers = 8
	results := make([]*ProvisionResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "ext-1", results[i].User.ID)
		if results[i].Path == ProvisionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one caller creates the record")
}

func TestEnsureEmailBoundToDifferentIdentity(t *testing.T) {
	users := newFakeUserRepo()
	require.NoError(t, users.Create(context.Background(), &model.User{
		ID:    "ext-other",
		Email: "alice@example.com",
	}))
	provisioner := newProvisioner(users)

	_, err := provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, autherr.ErrIdentityMismatch))
}

func TestEnsureUnexplainedConflict(t *testing.T) {
	users := newFakeUserRepo()
	users.fail = repository.ErrAlreadyExists
	provisioner := newProvisioner(users)

	// The insert reports a conflict but no row is found under either key
	_, err := provisioner.Ensure(context.Background(), "ext-1", "alice@example.com", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, autherr.ErrProvisioningFailed))
}
