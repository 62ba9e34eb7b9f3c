package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	appctx "github.com/auth-console/backend/internal/context"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// StatusLocked is the HTTP status for lockout responses
const StatusLocked = 423

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService *AuthService
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login handles a login attempt
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	result, err := h.authService.Login(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid email format", nil)
		case errors.Is(err, ErrCaptchaFailed):
			h.writeError(w, http.StatusBadRequest, CodeCaptchaFailed, "Captcha verification failed", nil)
		case errors.Is(err, ErrAccountDisabled):
			h.writeError(w, http.StatusForbidden, CodeAccountDisabled, "This account has been disabled", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	switch result.State {
	case LoginStateAuthenticated:
		h.writeSuccess(w, http.StatusOK, result)
	case LoginStateOTPRequired:
		h.writeSuccess(w, http.StatusOK, result)
	case LoginStateUnverified:
		h.writeError(w, http.StatusForbidden, CodeEmailNotVerified,
			"Email address is not verified. A new verification email was requested.",
			map[string][]string{"email_sent": {boolString(result.EmailSent)}})
	case LoginStateLocked:
		details := map[string][]string{}
		if result.LockedUntil != nil {
			details["locked_until"] = []string{result.LockedUntil.Format(time.RFC3339)}
		}
		h.writeError(w, StatusLocked, CodeAccountLocked,
			"Account is locked due to repeated failed login attempts", details)
	default:
		details := map[string][]string{}
		if result.AttemptsRemaining != nil {
			details["attempts_remaining"] = []string{intString(*result.AttemptsRemaining)}
		}
		h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", details)
	}
}

// VerifyOTP handles the second login factor
// POST /api/v1/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	auth, err := h.authService.VerifyOTP(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrInvalidOTP) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidOTP, "Invalid or expired verification code", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, auth)
}

// FederatedLogin completes a provider sign-in callback
// POST /api/v1/auth/login/federated
func (h *AuthHandler) FederatedLogin(w http.ResponseWriter, r *http.Request) {
	var req FederatedLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	auth, err := h.authService.FederatedLogin(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrFederatedIdentity):
			h.writeError(w, http.StatusUnauthorized, CodeFederatedIdentity, "Federated identity could not be verified", nil)
		case errors.Is(err, ErrAccountDisabled):
			h.writeError(w, http.StatusForbidden, CodeAccountDisabled, "Account is disabled", nil)
		case errors.Is(err, ErrAccountLocked):
			h.writeError(w, http.StatusForbidden, CodeAccountLocked, "Account is locked", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, auth)
}

// Register handles account creation
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	response, validationErrors, err := h.authService.Register(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			h.writeError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
		case errors.Is(err, ErrUsernameExists):
			h.writeError(w, http.StatusConflict, CodeUsernameExists, "This username is already taken", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"user":    response,
		"message": "Account created. Check your email to verify the address.",
	})
}

// VerifyEmail confirms an email address from its token
// GET /api/v1/auth/verify-email?token=...
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "token is required", nil)
		return
	}

	err := h.authService.VerifyEmail(r.Context(), token, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidVerificationToken):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidVerificationToken, "Invalid or expired verification token", nil)
		case errors.Is(err, ErrAlreadyVerified):
			h.writeError(w, http.StatusConflict, CodeValidationError, "Account is already verified", nil)
		case errors.Is(err, ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

// Refresh handles token rotation
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	tokens, err := h.authService.RefreshToken(r.Context(), req.RefreshToken, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRefreshToken):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid or expired refresh token", nil)
		case errors.Is(err, ErrAccountDisabled):
			h.writeError(w, http.StatusForbidden, CodeAccountDisabled, "This account has been disabled", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
	})
}

// Logout ends the caller's session
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	// Body is optional; without a session ID all of the user's sessions end
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.authService.Logout(r.Context(), userID, req.SessionID, getClientIP(r), r.UserAgent()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// ForgotPassword starts a password reset
// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "email is required", nil)
		return
	}

	if err := h.authService.RequestPasswordReset(r.Context(), req.Email, getClientIP(r), r.UserAgent()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	// Same answer whether or not the address exists
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "If an account with this email exists, a reset link has been sent",
	})
}

// ResetPassword completes a token-based password reset
// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	validationErrors, err := h.authService.ResetPassword(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidResetToken):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidResetToken, "Invalid or expired reset token", nil)
		case errors.Is(err, ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password has been reset. Please log in with your new password.",
	})
}

// ChangePassword replaces the authenticated caller's password
// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	validationErrors, err := h.authService.ChangePassword(r.Context(), userID, req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Current password is incorrect", nil)
		case errors.Is(err, ErrSamePassword):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "New password must differ from the current password", nil)
		case errors.Is(err, ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password changed. Other devices have been logged out.",
	})
}

// UnlockAccount clears a lockout from an emailed token, sets the new
// password, and logs the user in
// POST /api/v1/auth/unlock-account
func (h *AuthHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	var req UnlockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := checkRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	auth, validationErrors, err := h.authService.UnlockAccount(r.Context(), req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUnlockToken):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidUnlockToken, "Invalid or expired unlock token", nil)
		case errors.Is(err, ErrNotLocked):
			h.writeError(w, http.StatusConflict, CodeValidationError, "Account is not locked", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}
	if len(validationErrors) > 0 {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	h.writeSuccess(w, http.StatusOK, auth)
}

// GetMe returns the authenticated caller's profile
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	profile, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": profile,
	})
}

// DeregisterMe soft-deletes the caller's account
// DELETE /api/v1/auth/me
func (h *AuthHandler) DeregisterMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	if appctx.IsSystemAdmin(r.Context()) {
		h.writeError(w, http.StatusForbidden, CodeForbidden, "The system administrator account cannot be deregistered", nil)
		return
	}

	var req DeregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "password is required", nil)
		return
	}

	err := h.authService.Deregister(r.Context(), userID, req, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Password is incorrect", nil)
		case errors.Is(err, ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Account deregistered",
	})
}

// writeSuccess writes a successful JSON response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

func validationDetails(validationErrors []ValidationError) map[string][]string {
	details := make(map[string][]string)
	for _, ve := range validationErrors {
		details[ve.Field] = append(details[ve.Field], ve.Message)
	}
	return details
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intString(n int) string {
	return strconv.Itoa(n)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
