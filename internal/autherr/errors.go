// Package autherr defines the error taxonomy shared by the authentication
// core. Expected outcomes (invalid code, rate limited, bad credentials) are
// values of this taxonomy, not panics; anything outside it is wrapped as
// KindInternal before reaching a client.
package autherr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into a stable category that the HTTP layer maps
// to a (code, status, message) triple.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindRateLimit    Kind = "rate_limit"
	KindInvalidCode  Kind = "invalid_code"
	KindAuth         Kind = "auth"
	KindConflict     Kind = "conflict"
	KindProvisioning Kind = "provisioning"
	KindDispatch     Kind = "dispatch"
	KindInternal     Kind = "internal"
)

// Error is a typed error carrying its taxonomy kind, a stable machine code,
// and an optional retry hint for rate-limit denials.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a typed error with the given kind and stable code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an underlying cause to a typed error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Internal wraps an unexpected failure. The cause is only ever surfaced to
// operational logging, never to clients.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "internal error", cause: cause}
}

// KindOf extracts the taxonomy kind from err, or KindInternal if err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError returns the typed error inside err, wrapping unknown errors as
// internal so callers always have a taxonomy to map from.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Common instances used across services.

var (
	ErrInvalidCode        = New(KindInvalidCode, "invalid_code", "invalid or expired verification code")
	ErrTooManyAttempts    = New(KindInvalidCode, "too_many_attempts", "too many attempts for this code")
	ErrInvalidCredentials = New(KindAuth, "invalid_credentials", "invalid email or password")
	ErrAccountDisabled    = New(KindAuth, "account_disabled", "account is disabled")
	ErrAccountLocked      = New(KindRateLimit, "account_locked", "too many failed login attempts")
	ErrUserNotFound       = New(KindNotFound, "user_not_found", "user not found")
	ErrEmailTaken         = New(KindConflict, "email_taken", "email is already registered")
	ErrIdentityMismatch   = New(KindProvisioning, "identity_mismatch", "email is bound to a different identity")
	ErrProvisioningFailed = New(KindProvisioning, "provisioning_failed", "failed to provision user")
	ErrDispatchFailed     = New(KindDispatch, "dispatch_failed", "failed to deliver verification code")
	ErrInvalidToken       = New(KindAuth, "invalid_token", "invalid or expired session token")
)

// SendRateLimited builds a rate-limit denial carrying the remaining wait.
func SendRateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       "send_too_frequent",
		Message:    "verification code requested too frequently",
		RetryAfter: retryAfter,
	}
}

// Validation builds a malformed-input error with a stable code.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: message}
}
