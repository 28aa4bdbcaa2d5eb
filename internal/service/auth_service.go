package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/repository"
	"authcore/internal/token"
	"authcore/internal/util"
)

// AuthService orchestrates the authentication flows: code issuance, code
// and password login, registration, password reset, and logout. It owns
// the ordering of checks; the underlying services own the mechanics.
type AuthService struct {
	verification *VerificationCodeService
	limiter      *RateLimiter
	provisioner  *UserProvisioner
	audit        *AuditRecorder
	users        UserRepository
	sessions     SessionRegistry
	hasher       PasswordHasher
	issuer       *token.Issuer
	clock        clock.Clock
	logger       *zap.Logger
}

func NewAuthService(
	verification *VerificationCodeService,
	limiter *RateLimiter,
	provisioner *UserProvisioner,
	audit *AuditRecorder,
	users UserRepository,
	sessions SessionRegistry,
	hasher PasswordHasher,
	issuer *token.Issuer,
	clk clock.Clock,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		verification: verification,
		limiter:      limiter,
		provisioner:  provisioner,
		audit:        audit,
		users:        users,
		sessions:     sessions,
		hasher:       hasher,
		issuer:       issuer,
		clock:        clk,
		logger:       logger,
	}
}

// SendCodeRequest asks for a verification code to be dispatched.
type SendCodeRequest struct {
	Email   string        `json:"email"`
	Purpose model.Purpose `json:"purpose"`
}

// CodeLoginRequest is a login attempt backed by a verification code.
// ExternalID is the identity provider's id for the caller, used to
// provision a local record on first login.
type CodeLoginRequest struct {
	Email      string `json:"email"`
	Code       string `json:"code"`
	ExternalID string `json:"external_id"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

// PasswordLoginRequest is a login attempt backed by a stored password.
type PasswordLoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest creates a local account after code verification.
type RegisterRequest struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// ResetPasswordRequest replaces a password after code verification.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// AuthResult is a successful authentication: the resolved user plus the
// minted session.
type AuthResult struct {
	User    *model.User    `json:"user"`
	Session *token.Session `json:"session"`
}

// SendCode validates the request, enforces the per-recipient send window,
// and issues a code. Purposes that act on an existing account require the
// account to exist; registration requires it not to.
func (s *AuthService) SendCode(ctx context.Context, req *SendCodeRequest) (*CodeIssued, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if !model.ValidPurpose(req.Purpose) {
		return nil, autherr.Validation("unknown code purpose")
	}

	var userID string
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if req.Purpose == model.PurposeRegister {
			return nil, autherr.ErrEmailTaken
		}
		userID = user.ID
	case errors.Is(err, repository.ErrNotFound):
		if req.Purpose != model.PurposeRegister && req.Purpose != model.PurposeLogin {
			return nil, autherr.ErrUserNotFound
		}
	default:
		return nil, autherr.Internal(err)
	}

	if err := s.limiter.CheckSendRate(ctx, email, req.Purpose); err != nil {
		return nil, err
	}

	issued, err := s.verification.Issue(ctx, email, req.Purpose, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Verification code issued",
		util.String("email", email),
		util.String("purpose", string(req.Purpose)),
		util.String("code_id", issued.CodeID))
	return issued, nil
}

// LoginWithCode authenticates with a verification code, provisioning a
// local user on first login. The lockout check runs before the code is
// examined, so a locked account cannot burn or redeem codes.
func (s *AuthService) LoginWithCode(ctx context.Context, req *CodeLoginRequest) (*AuthResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, autherr.Validation("code is required")
	}

	if err := s.limiter.CheckLoginAttempts(ctx, email); err != nil {
		if errors.Is(err, autherr.ErrAccountLocked) {
			s.recordLogin(ctx, "", email, model.MethodVerificationCode, model.LoginBlocked, "account_locked", req.IPAddress, req.UserAgent)
		}
		return nil, err
	}

	outcome, err := s.verification.Validate(ctx, email, req.Code, model.PurposeLogin)
	if err != nil {
		return nil, err
	}
	switch outcome.Status {
	case ValidationTooManyAttempts:
		s.recordLogin(ctx, "", email, model.MethodVerificationCode, model.LoginFailed, "too_many_attempts", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrTooManyAttempts
	case ValidationInvalid:
		s.recordLogin(ctx, "", email, model.MethodVerificationCode, model.LoginFailed, "invalid_code", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrInvalidCode
	}

	user, err := s.resolveCodeUser(ctx, outcome, req.ExternalID, email)
	if err != nil {
		s.recordLogin(ctx, "", email, model.MethodVerificationCode, model.LoginFailed, failureReason(err), req.IPAddress, req.UserAgent)
		return nil, err
	}
	if user.Status != model.StatusActive {
		s.recordLogin(ctx, user.ID, email, model.MethodVerificationCode, model.LoginFailed, "account_disabled", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrAccountDisabled
	}

	result, err := s.openSession(ctx, user)
	if err != nil {
		s.recordLogin(ctx, user.ID, email, model.MethodVerificationCode, model.LoginFailed, failureReason(err), req.IPAddress, req.UserAgent)
		return nil, err
	}

	// Redeeming a code proves control of the mailbox.
	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID, s.clock.Now()); err != nil {
			s.logger.Warn("Failed to mark email verified",
				util.String("user_id", user.ID), util.ErrorField(err))
		} else {
			user.EmailVerified = true
		}
	}

	s.recordLogin(ctx, user.ID, email, model.MethodVerificationCode, model.LoginSuccess, "", req.IPAddress, req.UserAgent)
	return result, nil
}

// LoginWithPassword authenticates against the stored password hash. A
// missing user and a wrong password return the same error.
func (s *AuthService) LoginWithPassword(ctx context.Context, req *PasswordLoginRequest) (*AuthResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, autherr.Validation("password is required")
	}

	if err := s.limiter.CheckLoginAttempts(ctx, email); err != nil {
		if errors.Is(err, autherr.ErrAccountLocked) {
			s.recordLogin(ctx, "", email, model.MethodPassword, model.LoginBlocked, "account_locked", req.IPAddress, req.UserAgent)
		}
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordLogin(ctx, "", email, model.MethodPassword, model.LoginFailed, "user_not_found", req.IPAddress, req.UserAgent)
			return nil, autherr.ErrInvalidCredentials
		}
		return nil, autherr.Internal(err)
	}

	if user.PasswordHash == "" {
		s.recordLogin(ctx, user.ID, email, model.MethodPassword, model.LoginFailed, "no_password_set", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if !ok {
		s.recordLogin(ctx, user.ID, email, model.MethodPassword, model.LoginFailed, "invalid_password", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrInvalidCredentials
	}

	if user.Status != model.StatusActive {
		s.recordLogin(ctx, user.ID, email, model.MethodPassword, model.LoginFailed, "account_disabled", req.IPAddress, req.UserAgent)
		return nil, autherr.ErrAccountDisabled
	}

	result, err := s.openSession(ctx, user)
	if err != nil {
		s.recordLogin(ctx, user.ID, email, model.MethodPassword, model.LoginFailed, failureReason(err), req.IPAddress, req.UserAgent)
		return nil, err
	}

	s.recordLogin(ctx, user.ID, email, model.MethodPassword, model.LoginSuccess, "", req.IPAddress, req.UserAgent)
	return result, nil
}

// Register creates a local account after a registration code checks out.
// The email is considered verified: the code itself proved mailbox control.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, autherr.Validation("code is required")
	}
	if len(req.Password) < 8 {
		return nil, autherr.Validation("password must be at least 8 characters")
	}

	outcome, err := s.verification.Validate(ctx, email, req.Code, model.PurposeRegister)
	if err != nil {
		return nil, err
	}
	switch outcome.Status {
	case ValidationTooManyAttempts:
		return nil, autherr.ErrTooManyAttempts
	case ValidationInvalid:
		return nil, autherr.ErrInvalidCode
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, autherr.Internal(err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = displayNameFromEmail(email)
	}

	now := s.clock.Now()
	user := &model.User{
		ID:            uuid.New().String(),
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		Status:        model.StatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, autherr.ErrEmailTaken
		}
		return nil, autherr.Internal(err)
	}

	result, err := s.openSession(ctx, user)
	if err != nil {
		s.recordLogin(ctx, user.ID, email, model.MethodVerificationCode, model.LoginFailed, failureReason(err), req.IPAddress, req.UserAgent)
		return nil, err
	}

	s.logger.Info("User registered",
		util.String("user_id", user.ID),
		util.String("email", email))
	s.recordLogin(ctx, user.ID, email, model.MethodVerificationCode, model.LoginSuccess, "", req.IPAddress, req.UserAgent)
	return result, nil
}

// ResetPassword replaces a user's password after a reset code checks out.
// Existing sessions stay valid; only the credential changes.
func (s *AuthService) ResetPassword(ctx context.Context, req *ResetPasswordRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if req.Code == "" {
		return autherr.Validation("code is required")
	}
	if len(req.NewPassword) < 8 {
		return autherr.Validation("password must be at least 8 characters")
	}

	outcome, err := s.verification.Validate(ctx, email, req.Code, model.PurposeResetPassword)
	if err != nil {
		return err
	}
	switch outcome.Status {
	case ValidationTooManyAttempts:
		return autherr.ErrTooManyAttempts
	case ValidationInvalid:
		return autherr.ErrInvalidCode
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return autherr.ErrUserNotFound
		}
		return autherr.Internal(err)
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return autherr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.clock.Now()); err != nil {
		return autherr.Internal(err)
	}

	s.logger.Info("Password reset", util.String("user_id", user.ID))
	return nil
}

// Logout revokes the session behind the presented token. An already
// invalid token is not an error; the session is gone either way.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		return nil
	}

	owner, err := s.sessions.Owner(ctx, claims.ID)
	if err != nil {
		return autherr.Internal(err)
	}
	if owner == "" {
		return nil
	}
	if owner != claims.Subject {
		// A valid token can only revoke the session it was issued for.
		s.logger.Warn("Logout refused, session owned by another user",
			util.String("token_id", claims.ID),
			util.String("subject", claims.Subject))
		return nil
	}

	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		return autherr.Internal(err)
	}
	s.logger.Info("Session revoked",
		util.String("user_id", claims.Subject),
		util.String("token_id", claims.ID))
	return nil
}

// Authenticate resolves a bearer token to its user, rejecting tokens whose
// session has been revoked.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		return nil, autherr.ErrInvalidToken
	}

	active, err := s.sessions.IsActive(ctx, claims.ID)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if !active {
		return nil, autherr.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, autherr.ErrInvalidToken
		}
		return nil, autherr.Internal(err)
	}
	if user.Status != model.StatusActive {
		return nil, autherr.ErrAccountDisabled
	}
	return user, nil
}

// resolveCodeUser turns a redeemed code into a local user. The user id
// recorded at issuance wins; otherwise the caller's external id is
// provisioned, and failing that the email lookup is the last resort.
func (s *AuthService) resolveCodeUser(ctx context.Context, outcome *ValidationOutcome, externalID, email string) (*model.User, error) {
	if outcome.UserID != "" {
		user, err := s.users.GetByID(ctx, outcome.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, autherr.Internal(err)
		}
	}

	if externalID != "" {
		result, err := s.provisioner.Ensure(ctx, externalID, email, true)
		if err != nil {
			return nil, err
		}
		if result.Path != ProvisionFound {
			s.logger.Info("User provisioned during code login",
				util.String("user_id", result.User.ID),
				util.String("path", string(result.Path)))
		}
		return result.User, nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, autherr.ErrUserNotFound
		}
		return nil, autherr.Internal(err)
	}
	return user, nil
}

// openSession mints a token, registers it, and stamps last_login. The
// last_login write is best effort.
func (s *AuthService) openSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	session, err := s.issuer.Issue(user)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if err := s.sessions.Store(ctx, session.TokenID, user.ID, s.issuer.TTL()); err != nil {
		return nil, autherr.Internal(err)
	}

	now := s.clock.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to update last login",
			util.String("user_id", user.ID), util.ErrorField(err))
	} else {
		user.LastLoginAt = &now
	}

	return &AuthResult{User: user, Session: session}, nil
}

// failureReason maps an error to the stable code stored in the audit log.
func failureReason(err error) string {
	return autherr.AsError(err).Code
}

func (s *AuthService) recordLogin(ctx context.Context, userID, email string, method model.LoginMethod, status model.LoginStatus, reason, ip, userAgent string) {
	s.audit.Record(ctx, &model.LoginLog{
		UserID:        userID,
		Email:         email,
		LoginMethod:   method,
		Status:        status,
		FailureReason: reason,
		IPAddress:     ip,
		UserAgent:     userAgent,
	})
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", autherr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", autherr.Validation("invalid email address")
	}
	return email, nil
}
