package model

import "time"

// Purpose scopes a verification code to the flow that requested it, so a
// login code can never be replayed to authorize a password reset.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeRegister      Purpose = "register"
	PurposeResetPassword Purpose = "reset_password"
	PurposeChangeEmail   Purpose = "change_email"
	PurposeVerifyEmail   Purpose = "verify_email"
)

// ValidPurpose reports whether p is one of the known code purposes.
func ValidPurpose(p Purpose) bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposeResetPassword, PurposeChangeEmail, PurposeVerifyEmail:
		return true
	}
	return false
}

// UserStatus is the lifecycle state of a local user record.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
	StatusDeleted   UserStatus = "deleted"
)

// LoginMethod identifies how an authentication attempt was made.
type LoginMethod string

const (
	MethodPassword         LoginMethod = "password"
	MethodVerificationCode LoginMethod = "verification_code"
	MethodOAuth            LoginMethod = "oauth"
	MethodSSO              LoginMethod = "sso"
)

// LoginStatus is the outcome of an authentication attempt.
type LoginStatus string

const (
	LoginSuccess LoginStatus = "success"
	LoginFailed  LoginStatus = "failed"
	LoginBlocked LoginStatus = "blocked"
)

// VerificationCode is one issued one-time code. Rows are created on
// issuance, mutated (attempts or is_used) on validation, and never
// hard-deleted by the core.
type VerificationCode struct {
	CodeID    string    `json:"code_id" db:"code_id"`
	Email     string    `json:"email" db:"email"`
	Code      string    `json:"-" db:"code"` // 6 ASCII digits, never serialized out
	Purpose   Purpose   `json:"purpose" db:"purpose"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"` // weak reference, may be empty
	IsUsed    bool      `json:"is_used" db:"is_used"`
	Attempts  int       `json:"attempts" db:"attempts"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the code has passed its TTL at the given instant.
func (c *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// User is the local identity record mirroring an externally-authenticated
// identity. ID is shared with the external provider and never reassigned.
type User struct {
	ID            string     `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	Name          string     `json:"name" db:"name"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	Status        UserStatus `json:"status" db:"status"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// LoginLog is one immutable row of the append-only audit trail.
type LoginLog struct {
	ID            string      `json:"id" db:"id"`
	UserID        string      `json:"user_id,omitempty" db:"user_id"`
	Email         string      `json:"email" db:"email"`
	LoginMethod   LoginMethod `json:"login_method" db:"login_method"`
	Status        LoginStatus `json:"status" db:"status"`
	FailureReason string      `json:"failure_reason,omitempty" db:"failure_reason"`
	IPAddress     string      `json:"ip_address" db:"ip_address"`
	UserAgent     string      `json:"user_agent" db:"user_agent"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}
