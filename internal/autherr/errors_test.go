package autherr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(ErrAccountLocked))
	assert.Equal(t, KindConflict, KindOf(ErrEmailTaken))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", ErrInvalidCode)
	assert.Equal(t, KindInvalidCode, KindOf(wrapped))
}

func TestAsErrorWrapsUnknown(t *testing.T) {
	cause := errors.New("db down")
	e := AsError(cause)
	assert.Equal(t, KindInternal, e.Kind)
	assert.ErrorIs(t, e, cause)
}

func TestInternalHidesCauseFromMessage(t *testing.T) {
	e := Internal(errors.New("connection refused to 10.0.0.1"))
	assert.Equal(t, "internal error", e.Message)
	assert.Equal(t, "internal_error", e.Code)
}

func TestSendRateLimitedCarriesRetryAfter(t *testing.T) {
	e := SendRateLimited(42 * time.Second)
	assert.Equal(t, KindRateLimit, e.Kind)
	assert.Equal(t, 42*time.Second, e.RetryAfter)
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("query timeout")
	e := Wrap(KindProvisioning, "provisioning_failed", "failed to provision user", cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "provisioning")
}
