package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"authcore/internal/autherr"
	"authcore/internal/service"
	"authcore/internal/util"
)

// AuthHandler handles HTTP requests for the authentication flows
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// SendCode handles verification code issuance
// @Summary Send a verification code
// @Description Generate a verification code for the given email and purpose and dispatch it
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.SendCodeRequest true "Send code request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /auth/send-code [post]
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.Validation("invalid request body"), "Invalid request body")
		return
	}

	issued, err := h.authService.SendCode(ctx, &req)
	if err != nil {
		h.respondWithError(w, err, "Failed to send verification code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(issued, "Verification code sent"))
	h.logger.Info("Verification code sent via HTTP",
		util.String("email", issued.Email),
		util.String("purpose", string(issued.Purpose)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "SendCode"),
	)
}

// LoginWithCode handles verification-code login
// @Summary Log in with a verification code
// @Description Validate a verification code and open a session, provisioning the user on first login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.CodeLoginRequest true "Code login request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 423 {object} Response
// @Failure 500 {object} Response
// @Router /auth/login/code [post]
func (h *AuthHandler) LoginWithCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.CodeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.Validation("invalid request body"), "Invalid request body")
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.authService.LoginWithCode(ctx, &req)
	if err != nil {
		h.respondWithError(w, err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Login successful"))
	h.logger.Info("Code login via HTTP",
		util.String("user_id", result.User.ID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "LoginWithCode"),
	)
}

// LoginWithPassword handles password login
// @Summary Log in with a password
// @Description Verify email and password and open a session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.PasswordLoginRequest true "Password login request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 423 {object} Response
// @Failure 500 {object} Response
// @Router /auth/login/password [post]
func (h *AuthHandler) LoginWithPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.PasswordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.Validation("invalid request body"), "Invalid request body")
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.authService.LoginWithPassword(ctx, &req)
	if err != nil {
		h.respondWithError(w, err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Login successful"))
	h.logger.Info("Password login via HTTP",
		util.String("user_id", result.User.ID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "LoginWithPassword"),
	)
}

// Register handles account registration
// @Summary Register a new account
// @Description Validate a registration code, create the account, and open a session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.RegisterRequest true "Registration request"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Failure 500 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.Validation("invalid request body"), "Invalid request body")
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.authService.Register(ctx, &req)
	if err != nil {
		h.respondWithError(w, err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Account created successfully"))
	h.logger.Info("User registered via HTTP",
		util.String("user_id", result.User.ID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// ResetPassword handles password reset
// @Summary Reset a password
// @Description Validate a reset code and replace the account password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.ResetPasswordRequest true "Password reset request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.Validation("invalid request body"), "Invalid request body")
		return
	}

	if err := h.authService.ResetPassword(ctx, &req); err != nil {
		h.respondWithError(w, err, "Password reset failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset successfully"))
	h.logger.Info("Password reset via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ResetPassword"),
	)
}

// Logout handles session revocation
// @Summary Log out
// @Description Revoke the session behind the presented bearer token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 500 {object} Response
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tokenString := bearerToken(r)
	if tokenString == "" {
		h.respondWithError(w, autherr.ErrInvalidToken, "Missing bearer token")
		return
	}

	if err := h.authService.Logout(ctx, tokenString); err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Me returns the authenticated user behind the bearer token
// @Summary Get the current user
// @Description Resolve the bearer token to its user record
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		h.respondWithError(w, autherr.ErrInvalidToken, "Not authenticated")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(user, "User retrieved successfully"))
}

// respondWithJSON writes a JSON response with the given status code
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

// respondWithError maps a service error onto an HTTP status and writes the
// standard error envelope. Internal causes never reach the body.
func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error, message string) {
	e := autherr.AsError(err)
	statusCode := statusForError(e)

	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds()+0.5)))
	}
	if e.Kind == autherr.KindInternal {
		h.logger.Error("Internal error on HTTP request", util.ErrorField(e))
	}

	h.respondWithJSON(w, statusCode, Response{
		Success: false,
		Error:   e.Code,
		Message: message,
	})
}

// statusForError maps the error taxonomy to HTTP status codes. A handful of
// codes override their kind's default.
func statusForError(e *autherr.Error) int {
	switch e.Code {
	case "account_locked":
		return http.StatusLocked
	case "account_disabled":
		return http.StatusForbidden
	case "too_many_attempts":
		return http.StatusTooManyRequests
	}

	switch e.Kind {
	case autherr.KindValidation, autherr.KindInvalidCode:
		return http.StatusBadRequest
	case autherr.KindNotFound:
		return http.StatusNotFound
	case autherr.KindRateLimit:
		return http.StatusTooManyRequests
	case autherr.KindAuth:
		return http.StatusUnauthorized
	case autherr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// clientIP prefers the RealIP middleware's resolution over RemoteAddr.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
