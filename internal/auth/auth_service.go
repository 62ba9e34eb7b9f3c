package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auth-console/backend/internal/captcha"
	"github.com/auth-console/backend/internal/federation"
	"github.com/auth-console/backend/internal/mailer"
	"github.com/auth-console/backend/internal/metrics"
	"github.com/auth-console/backend/internal/repository"
	"github.com/auth-console/backend/internal/session"
)

// Auth service errors
var (
	ErrInvalidEmail             = errors.New("invalid email format")
	ErrEmailExists              = errors.New("email already exists")
	ErrUsernameExists           = errors.New("username already exists")
	ErrPasswordMismatch         = errors.New("password and confirm_password do not match")
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrCaptchaFailed            = errors.New("captcha verification failed")
	ErrAccountDisabled          = errors.New("account is disabled")
	ErrAccountLocked            = errors.New("account is locked")
	ErrFederatedIdentity        = errors.New("federated identity could not be verified")
	ErrInvalidOTP               = errors.New("invalid or expired verification code")
	ErrInvalidRefreshToken      = errors.New("invalid or expired refresh token")
	ErrInvalidResetToken        = errors.New("invalid or expired reset token")
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	ErrInvalidUnlockToken       = errors.New("invalid or expired unlock token")
	ErrAlreadyVerified          = errors.New("account is already verified")
	ErrNotLocked                = errors.New("account is not locked")
	ErrSamePassword             = errors.New("new password must differ from the current password")
	ErrUserNotFound             = errors.New("user not found")
)

// Error codes for API responses
const (
	CodeValidationError          = "VALIDATION_ERROR"
	CodeEmailExists              = "EMAIL_EXISTS"
	CodeUsernameExists           = "USERNAME_EXISTS"
	CodeInvalidCredentials       = "INVALID_CREDENTIALS"
	CodeCaptchaFailed            = "CAPTCHA_FAILED"
	CodeFederatedIdentity        = "FEDERATED_IDENTITY_FAILED"
	CodeAccountLocked            = "ACCOUNT_LOCKED"
	CodeAccountDisabled          = "ACCOUNT_DISABLED"
	CodeEmailNotVerified         = "EMAIL_NOT_VERIFIED"
	CodeInvalidOTP               = "INVALID_OTP"
	CodeInvalidRefreshToken      = "INVALID_REFRESH_TOKEN"
	CodeInvalidResetToken        = "INVALID_RESET_TOKEN"
	CodeInvalidVerificationToken = "INVALID_VERIFICATION_TOKEN"
	CodeInvalidUnlockToken       = "INVALID_UNLOCK_TOKEN"
	CodeAuthTokenMissing         = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid         = "AUTH_TOKEN_INVALID"
	CodeForbidden                = "FORBIDDEN"
	CodeUserNotFound             = "USER_NOT_FOUND"
)

// LoginState is the caller-visible outcome of a login attempt
type LoginState string

const (
	// LoginStateOTPRequired means the password was accepted and a one-time
	// code was sent to the account's email.
	LoginStateOTPRequired LoginState = "otp_required"
	// LoginStateAuthenticated means tokens were issued without a second
	// factor (administrator logins).
	LoginStateAuthenticated LoginState = "authenticated"
	// LoginStateUnverified means the account exists but its email is not
	// confirmed yet; a fresh verification email was attempted.
	LoginStateUnverified LoginState = "unverified"
	// LoginStateLocked means the account is locked out.
	LoginStateLocked LoginState = "locked"
	// LoginStateInvalidCredentials covers both unknown accounts and wrong
	// passwords so callers cannot probe which addresses exist.
	LoginStateInvalidCredentials LoginState = "invalid_credentials"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	CaptchaToken string `json:"captcha_token"`
}

// VerifyOTPRequest represents the second-factor verification payload
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// FederatedLoginRequest carries the provider-issued ID token from the
// sign-in callback
type FederatedLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest represents the authenticated password change payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// ResetPasswordRequest represents the token-based password reset payload
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// UnlockAccountRequest represents the token-based account unlock payload
type UnlockAccountRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// DeregisterRequest represents the account deregistration payload
type DeregisterRequest struct {
	Password string `json:"password" validate:"required"`
}

// LoginResult carries the outcome of a login attempt. Exactly one of the
// optional fields is meaningful for a given state.
type LoginResult struct {
	State             LoginState    `json:"state"`
	MaskedEmail       string        `json:"masked_email,omitempty"`
	EmailSent         bool          `json:"email_sent,omitempty"`
	AttemptsRemaining *int          `json:"attempts_remaining,omitempty"`
	LockedUntil       *time.Time    `json:"locked_until,omitempty"`
	Auth              *AuthResponse `json:"auth,omitempty"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User      UserResponse  `json:"user"`
	Tokens    TokenResponse `json:"tokens"`
	SessionID string        `json:"session_id"`
}

// TokenResponse represents the token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthServiceConfig holds the login state-machine tuning and the
// file-based administrator identity
type AuthServiceConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	OTPExpiry         time.Duration
	CaptchaBypass     string
	AdminEmail        string
	AdminPassword     string
	AdminName         string
	FrontendURL       string
}

// AuthService handles authentication and account lifecycle business logic
type AuthService struct {
	userRepo          repository.UserRepository
	activityRepo      repository.ActivityRepositoryInterface
	tokenService      *TokenService
	passwordValidator *PasswordValidator
	tracker           *session.Tracker
	dispatcher        mailer.Dispatcher
	verifier          captcha.Verifier
	federated         federation.Verifier
	cfg               AuthServiceConfig
	logger            *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo repository.UserRepository,
	activityRepo repository.ActivityRepositoryInterface,
	tokenService *TokenService,
	passwordValidator *PasswordValidator,
	tracker *session.Tracker,
	dispatcher mailer.Dispatcher,
	verifier captcha.Verifier,
	federated federation.Verifier,
	cfg AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:          userRepo,
		activityRepo:      activityRepo,
		tokenService:      tokenService,
		passwordValidator: passwordValidator,
		tracker:           tracker,
		dispatcher:        dispatcher,
		verifier:          verifier,
		federated:         federated,
		cfg:               cfg,
		logger:            logger,
	}
}

// Login runs the login state machine for one attempt.
// The outcome is reported through LoginResult; an error return means the
// attempt could not be evaluated at all.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ipAddress, userAgent string) (*LoginResult, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	// The file-based administrator never touches the captcha, the store,
	// or the activity log.
	if s.isSystemAdmin(email) {
		return s.loginSystemAdmin(req, ipAddress, userAgent)
	}

	if req.CaptchaToken != s.cfg.CaptchaBypass {
		if err := s.verifier.Verify(ctx, req.CaptchaToken, ipAddress); err != nil {
			return nil, ErrCaptchaFailed
		}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Indistinguishable from a wrong password to the caller
			metrics.LoginAttemptsTotal.WithLabelValues("unknown_account").Inc()
			return &LoginResult{State: LoginStateInvalidCredentials}, nil
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := time.Now().UTC()

	if !user.IsVerified && user.Role != repository.RoleAdmin {
		return s.loginUnverified(ctx, user, ipAddress, userAgent)
	}

	if user.IsLocked {
		if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
			// A locked account consumes no attempt counter
			return &LoginResult{State: LoginStateLocked, LockedUntil: user.LockedUntil}, nil
		}
		// Lock has expired; clear it and evaluate the attempt normally
		if err := s.userRepo.Unlock(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsLocked = false
		user.FailedLoginAttempts = 0
	}

	if user.PasswordHash == nil {
		// Federated accounts hold no local credential; no password is
		// ever right, and no counter advances.
		metrics.LoginAttemptsTotal.WithLabelValues("no_local_credential").Inc()
		return &LoginResult{State: LoginStateInvalidCredentials}, nil
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, *user.PasswordHash); err != nil {
		return s.loginWrongPassword(ctx, user, now, ipAddress, userAgent)
	}

	if user.Role == repository.RoleAdmin {
		return s.loginAdminUser(ctx, user, now, ipAddress, userAgent)
	}

	return s.loginIssueOTP(ctx, user, now, ipAddress, userAgent)
}

// loginSystemAdmin evaluates the config-backed administrator credentials
func (s *AuthService) loginSystemAdmin(req LoginRequest, ipAddress, userAgent string) (*LoginResult, error) {
	if s.cfg.AdminPassword == "" || req.Password != s.cfg.AdminPassword {
		return &LoginResult{State: LoginStateInvalidCredentials}, nil
	}

	now := time.Now().UTC()
	tokenPair, err := s.tokenService.GenerateTokenPair(SystemAdminUserID, s.cfg.AdminEmail, repository.RoleAdmin, true)
	if err != nil {
		return nil, err
	}

	sid := session.SessionID(SystemAdminUserID, now)
	s.tracker.Add(session.Session{
		ID:        sid,
		UserID:    SystemAdminUserID,
		Email:     s.cfg.AdminEmail,
		Username:  s.cfg.AdminName,
		Role:      repository.RoleAdmin,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		LoginAt:   now,
	})

	s.logger.Info("System administrator logged in", "ip_address", ipAddress)

	return &LoginResult{
		State: LoginStateAuthenticated,
		Auth: &AuthResponse{
			User: UserResponse{
				ID:         SystemAdminUserID,
				Username:   s.cfg.AdminName,
				Email:      s.cfg.AdminEmail,
				Role:       repository.RoleAdmin,
				IsVerified: true,
			},
			Tokens: TokenResponse{
				AccessToken:  tokenPair.AccessToken,
				RefreshToken: tokenPair.RefreshToken,
				ExpiresIn:    tokenPair.ExpiresIn,
				TokenType:    "Bearer",
			},
			SessionID: sid,
		},
	}, nil
}

// loginUnverified resends the verification email synchronously so the
// caller learns whether it went out
func (s *AuthService) loginUnverified(ctx context.Context, user *repository.User, ipAddress, userAgent string) (*LoginResult, error) {
	token, err := s.tokenService.GenerateVerificationToken(user.ID.String(), user.Email)
	if err != nil {
		return nil, err
	}

	emailSent := true
	if err := s.dispatcher.Send(ctx, s.verificationMessage(user, token)); err != nil {
		emailSent = false
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionLoginAttempt, ipAddress, userAgent, map[string]any{
		"reason":    "email_not_verified",
		"emailSent": emailSent,
	})

	return &LoginResult{State: LoginStateUnverified, EmailSent: emailSent}, nil
}

// loginWrongPassword advances the failure counter and locks the account
// at the threshold
func (s *AuthService) loginWrongPassword(ctx context.Context, user *repository.User, now time.Time, ipAddress, userAgent string) (*LoginResult, error) {
	attempts := user.FailedLoginAttempts + 1

	if attempts >= s.cfg.MaxFailedAttempts {
		lockedUntil := now.Add(s.cfg.LockDuration)
		unlockToken, err := s.tokenService.GenerateUnlockToken(user.ID.String(), user.Email)
		if err != nil {
			return nil, err
		}

		tokenExpires := now.Add(s.tokenService.unlockExpiry)
		if err := s.userRepo.RecordFailedLogin(ctx, user.ID, attempts); err != nil {
			return nil, err
		}
		if err := s.userRepo.Lock(ctx, user.ID, lockedUntil, unlockToken, tokenExpires); err != nil {
			return nil, err
		}

		s.logActivity(ctx, user.ID.String(), repository.ActionLoginFailed, ipAddress, userAgent, map[string]any{
			"attempts": attempts,
		})
		s.logActivity(ctx, user.ID.String(), repository.ActionAccountLocked, ipAddress, userAgent, map[string]any{
			"lockedUntil": lockedUntil.Format(time.RFC3339),
		})

		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		metrics.AccountLockoutsTotal.Inc()

		s.sendAsync(s.unlockMessage(user, unlockToken, lockedUntil))

		return &LoginResult{State: LoginStateLocked, LockedUntil: &lockedUntil}, nil
	}

	if err := s.userRepo.RecordFailedLogin(ctx, user.ID, attempts); err != nil {
		return nil, err
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionLoginFailed, ipAddress, userAgent, map[string]any{
		"attempts": attempts,
	})
	metrics.LoginAttemptsTotal.WithLabelValues("wrong_password").Inc()

	remaining := s.cfg.MaxFailedAttempts - attempts
	return &LoginResult{State: LoginStateInvalidCredentials, AttemptsRemaining: &remaining}, nil
}

// loginAdminUser issues tokens directly; stored administrators skip the
// second factor and are auto-verified on first login
func (s *AuthService) loginAdminUser(ctx context.Context, user *repository.User, now time.Time, ipAddress, userAgent string) (*LoginResult, error) {
	if !user.IsVerified {
		if err := s.userRepo.MarkVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsVerified = true
	}

	auth, err := s.issueSession(ctx, user, now, ipAddress, userAgent, repository.ActionAdminLoginSuccess)
	if err != nil {
		return nil, err
	}

	return &LoginResult{State: LoginStateAuthenticated, Auth: auth}, nil
}

// loginIssueOTP stores a fresh one-time code and mails it
func (s *AuthService) loginIssueOTP(ctx context.Context, user *repository.User, now time.Time, ipAddress, userAgent string) (*LoginResult, error) {
	otp, err := GenerateOTP()
	if err != nil {
		return nil, err
	}

	expires := now.Add(s.cfg.OTPExpiry)
	if err := s.userRepo.SetLoginOTP(ctx, user.ID, otp, expires); err != nil {
		return nil, err
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionOTPGenerated, ipAddress, userAgent, nil)
	s.sendAsync(s.otpMessage(user, otp))

	metrics.LoginAttemptsTotal.WithLabelValues("otp_required").Inc()
	metrics.OTPChallengesTotal.WithLabelValues("issued").Inc()

	return &LoginResult{
		State:       LoginStateOTPRequired,
		MaskedEmail: MaskEmail(user.Email),
	}, nil
}

// VerifyOTP checks the second-factor code and completes the login
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest, ipAddress, userAgent string) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}

	now := time.Now().UTC()
	if user.LoginOTP == nil || user.LoginOTPExpires == nil ||
		*user.LoginOTP != req.OTP || now.After(*user.LoginOTPExpires) {
		s.logActivity(ctx, user.ID.String(), repository.ActionOTPFailed, ipAddress, userAgent, nil)
		metrics.OTPChallengesTotal.WithLabelValues("failed").Inc()
		return nil, ErrInvalidOTP
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionOTPVerified, ipAddress, userAgent, nil)
	metrics.OTPChallengesTotal.WithLabelValues("verified").Inc()

	auth, err := s.issueSession(ctx, user, now, ipAddress, userAgent, repository.ActionLoginSuccess)
	if err != nil {
		return nil, err
	}

	return auth, nil
}

// FederatedLogin completes a provider sign-in callback. The provider has
// already authenticated the user, so there is no password, no second
// factor, and no failure counter; a first-time address gets an account
// created on the spot.
func (s *AuthService) FederatedLogin(ctx context.Context, req FederatedLoginRequest, ipAddress, userAgent string) (*AuthResponse, error) {
	identity, err := s.federated.Verify(ctx, req.IDToken)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("federated_rejected").Inc()
		return nil, ErrFederatedIdentity
	}
	if !identity.EmailVerified {
		return nil, ErrFederatedIdentity
	}

	email := strings.TrimSpace(strings.ToLower(identity.Email))
	if !isValidEmail(email) || s.isSystemAdmin(email) {
		return nil, ErrFederatedIdentity
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrUserNotFound):
		user, err = s.createFederatedUser(ctx, email)
		if err != nil {
			return nil, err
		}
		s.logActivity(ctx, user.ID.String(), repository.ActionRegister, ipAddress, userAgent, map[string]any{
			"provider": repository.AuthProviderFederated,
		})
	default:
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := time.Now().UTC()
	if user.IsLocked {
		if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
			return nil, ErrAccountLocked
		}
		if err := s.userRepo.Unlock(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsLocked = false
		user.FailedLoginAttempts = 0
	}

	// The provider vouched for the address
	if !user.IsVerified {
		if err := s.userRepo.MarkVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.IsVerified = true
	}

	return s.issueSession(ctx, user, now, ipAddress, userAgent, repository.ActionFederatedLogin)
}

// createFederatedUser registers a passwordless, pre-verified account for
// a first-time federated address
func (s *AuthService) createFederatedUser(ctx context.Context, email string) (*repository.User, error) {
	username := usernameFromEmail(email)
	taken, err := s.userRepo.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		username = fmt.Sprintf("%s%d", username, time.Now().UnixMilli()%100000)
	}

	user := &repository.User{
		Username:     username,
		Email:        email,
		AuthProvider: repository.AuthProviderFederated,
		Role:         repository.RoleUser,
		IsVerified:   true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// usernameFromEmail derives a username candidate from the address's local
// part, trimmed to leave room for a collision suffix
func usernameFromEmail(email string) string {
	local := email
	if i := strings.Index(email, "@"); i > 0 {
		local = email[:i]
	}

	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	name := b.String()
	if len(name) < 3 {
		name = "user" + name
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

// issueSession mints tokens, persists the completed login, registers the
// session, and writes the login entry the reconciler replays later
func (s *AuthService) issueSession(ctx context.Context, user *repository.User, now time.Time, ipAddress, userAgent, action string) (*AuthResponse, error) {
	tokenPair, err := s.tokenService.GenerateTokenPair(user.ID.String(), user.Email, user.Role, false)
	if err != nil {
		return nil, err
	}

	refreshHash := s.tokenService.HashRefreshToken(tokenPair.RefreshToken)
	if err := s.userRepo.CompleteLogin(ctx, user.ID, refreshHash, now); err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(AccessTokenType)).Inc()
	metrics.TokensIssuedTotal.WithLabelValues(string(RefreshTokenType)).Inc()
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()

	sid := session.SessionID(user.ID.String(), now)
	s.tracker.Add(session.Session{
		ID:        sid,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Username:  user.Username,
		Role:      user.Role,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		LoginAt:   now,
	})

	s.logActivity(ctx, user.ID.String(), action, ipAddress, userAgent, map[string]any{
		"sessionId": sid,
		"email":     user.Email,
		"username":  user.Username,
		"role":      user.Role,
	})

	return &AuthResponse{
		User: UserResponse{
			ID:         user.ID.String(),
			Username:   user.Username,
			Email:      user.Email,
			Role:       user.Role,
			IsVerified: user.IsVerified,
			CreatedAt:  user.CreatedAt,
			LastLogin:  &now,
		},
		Tokens: TokenResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			ExpiresIn:    tokenPair.ExpiresIn,
			TokenType:    "Bearer",
		},
		SessionID: sid,
	}, nil
}

// Register creates a new unverified account and sends the verification email
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, ipAddress, userAgent string) (*UserResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 30 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "username",
			Message: "Username must be between 3 and 30 characters",
		})
	}

	for _, err := range s.passwordValidator.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if req.Password != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	if s.isSystemAdmin(email) {
		return nil, nil, ErrEmailExists
	}

	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrEmailExists
	}

	taken, err := s.userRepo.UsernameExists(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if taken {
		return nil, nil, ErrUsernameExists
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &repository.User{
		Username:     username,
		Email:        email,
		PasswordHash: &passwordHash,
		AuthProvider: repository.AuthProviderLocal,
		Role:         repository.RoleUser,
		IsVerified:   false,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailAlreadyExists):
			return nil, nil, ErrEmailExists
		case errors.Is(err, repository.ErrUsernameAlreadyExists):
			return nil, nil, ErrUsernameExists
		}
		return nil, nil, err
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionRegister, ipAddress, userAgent, nil)

	token, err := s.tokenService.GenerateVerificationToken(user.ID.String(), user.Email)
	if err == nil {
		s.sendAsync(s.verificationMessage(user, token))
	} else {
		s.logger.Error("Failed to generate verification token", "user_id", user.ID, "error", err)
	}

	return &UserResponse{
		ID:         user.ID.String(),
		Username:   user.Username,
		Email:      user.Email,
		Role:       user.Role,
		IsVerified: false,
		CreatedAt:  user.CreatedAt,
	}, nil, nil
}

// VerifyEmail confirms an account from its verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token, ipAddress, userAgent string) error {
	claims, err := s.tokenService.ValidateVerificationToken(token)
	if err != nil {
		return ErrInvalidVerificationToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if user.IsVerified {
		return ErrAlreadyVerified
	}

	if err := s.userRepo.MarkVerified(ctx, id); err != nil {
		return err
	}

	s.logActivity(ctx, id.String(), repository.ActionEmailVerified, ipAddress, userAgent, nil)
	return nil
}

// RefreshToken rotates a refresh token into a fresh pair. The role in the
// new access token is read from the store, so role changes take effect on
// the next refresh.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken, ipAddress, userAgent string) (*TokenResponse, error) {
	claims, err := s.tokenService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	tokenHash := s.tokenService.HashRefreshToken(refreshToken)
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != tokenHash {
		return nil, ErrInvalidRefreshToken
	}

	newPair, err := s.tokenService.GenerateTokenPair(user.ID.String(), user.Email, user.Role, false)
	if err != nil {
		return nil, err
	}

	newHash := s.tokenService.HashRefreshToken(newPair.RefreshToken)
	if err := s.userRepo.SetRefreshToken(ctx, user.ID, newHash); err != nil {
		return nil, err
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionTokenRefreshed, ipAddress, userAgent, nil)

	return &TokenResponse{
		AccessToken:  newPair.AccessToken,
		RefreshToken: newPair.RefreshToken,
		ExpiresIn:    newPair.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}

// Logout revokes the refresh token and ends the user's tracked sessions
func (s *AuthService) Logout(ctx context.Context, userID, sessionID, ipAddress, userAgent string) error {
	if userID == SystemAdminUserID {
		if sessionID != "" {
			s.tracker.Remove(sessionID)
		} else {
			s.tracker.RemoveByUser(userID)
		}
		return nil
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	if err := s.userRepo.ClearRefreshToken(ctx, id); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	if sessionID != "" {
		s.tracker.Remove(sessionID)
	} else {
		s.tracker.RemoveByUser(userID)
	}

	s.logActivity(ctx, userID, repository.ActionLogout, ipAddress, userAgent, map[string]any{
		"sessionId": sessionID,
	})

	return nil
}

// RequestPasswordReset mails a reset link when the address is known.
// The caller gets the same answer either way.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ipAddress, userAgent string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}

	// Federated accounts have no password to reset; same silent answer
	if user.PasswordHash == nil {
		return nil
	}

	token, err := s.tokenService.GenerateResetToken(user.ID.String(), user.Email)
	if err != nil {
		return err
	}

	s.logActivity(ctx, user.ID.String(), repository.ActionPasswordResetRequest, ipAddress, userAgent, nil)
	s.sendAsync(s.resetMessage(user, token))

	return nil
}

// ResetPassword sets a new password from a reset token. The reset also
// clears any lockout and revokes the refresh token.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest, ipAddress, userAgent string) ([]ValidationError, error) {
	claims, err := s.tokenService.ValidateResetToken(req.Token)
	if err != nil {
		return nil, ErrInvalidResetToken
	}

	var validationErrors []ValidationError
	for _, verr := range s.passwordValidator.ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{Field: verr.Field, Message: verr.Message})
	}
	if req.NewPassword != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}
	if len(validationErrors) > 0 {
		return validationErrors, nil
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if _, err := s.userRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	hash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.ResetPassword(ctx, id, hash); err != nil {
		return nil, err
	}

	s.tracker.RemoveByUser(id.String())
	s.logActivity(ctx, id.String(), repository.ActionPasswordResetSuccess, ipAddress, userAgent, nil)

	return nil, nil
}

// ChangePassword replaces the password for an authenticated user and
// revokes the refresh token so other devices must log in again
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest, ipAddress, userAgent string) ([]ValidationError, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.passwordValidator.VerifyPassword(req.CurrentPassword, *user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if req.CurrentPassword == req.NewPassword {
		return nil, ErrSamePassword
	}

	var validationErrors []ValidationError
	for _, verr := range s.passwordValidator.ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{Field: verr.Field, Message: verr.Message})
	}
	if req.NewPassword != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}
	if len(validationErrors) > 0 {
		return validationErrors, nil
	}

	hash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.ChangePassword(ctx, id, hash); err != nil {
		return nil, err
	}
	if err := s.userRepo.ClearRefreshToken(ctx, id); err != nil {
		return nil, err
	}

	s.logActivity(ctx, userID, repository.ActionPasswordChanged, ipAddress, userAgent, nil)

	return nil, nil
}

// UnlockAccount clears a lockout from an emailed unlock token and sets a
// new password in the same step, then logs the user in. The account was
// just brute-forced to the lockout threshold, so keeping the old password
// is not an option. The token must match the one stored at lock time;
// older unlock emails stop working as soon as a newer lock issues a
// replacement.
func (s *AuthService) UnlockAccount(ctx context.Context, req UnlockAccountRequest, ipAddress, userAgent string) (*AuthResponse, []ValidationError, error) {
	claims, err := s.tokenService.ValidateUnlockToken(req.Token)
	if err != nil {
		return nil, nil, ErrInvalidUnlockToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil, ErrInvalidUnlockToken
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrInvalidUnlockToken
		}
		return nil, nil, err
	}

	if !user.IsLocked {
		return nil, nil, ErrNotLocked
	}

	now := time.Now().UTC()
	if user.UnlockToken == nil || *user.UnlockToken != req.Token ||
		user.UnlockTokenExpires == nil || now.After(*user.UnlockTokenExpires) {
		return nil, nil, ErrInvalidUnlockToken
	}

	var validationErrors []ValidationError
	for _, verr := range s.passwordValidator.ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{Field: verr.Field, Message: verr.Message})
	}
	if req.NewPassword != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}
	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	hash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, nil, err
	}

	// Clears the lock, OTP, and refresh state in one statement
	if err := s.userRepo.ResetPassword(ctx, id, hash); err != nil {
		return nil, nil, err
	}
	user.IsLocked = false
	user.LockedUntil = nil

	s.logActivity(ctx, id.String(), repository.ActionAccountUnlocked, ipAddress, userAgent, nil)

	auth, err := s.issueSession(ctx, user, now, ipAddress, userAgent, repository.ActionLoginSuccess)
	if err != nil {
		return nil, nil, err
	}
	return auth, nil, nil
}

// Deregister soft-deletes the caller's account after a password check.
// Identifiers are anonymized so the email and username free up immediately.
func (s *AuthService) Deregister(ctx context.Context, userID string, req DeregisterRequest, ipAddress, userAgent string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	if err := s.passwordValidator.VerifyPassword(req.Password, *user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	now := time.Now().UTC()
	millis := now.UnixMilli()
	anonEmail := fmt.Sprintf("deregistered_%d@deleted.com", millis)
	anonUsername := fmt.Sprintf("deleted_user_%d", millis)

	if err := s.userRepo.Deregister(ctx, id, anonEmail, anonUsername, now); err != nil {
		return err
	}

	s.tracker.RemoveByUser(userID)
	s.logActivity(ctx, userID, repository.ActionAccountDeleted, ipAddress, userAgent, map[string]any{
		"originalEmail": MaskEmail(user.Email),
	})

	return nil
}

// Profile returns the caller's account data
func (s *AuthService) Profile(ctx context.Context, userID string) (*UserResponse, error) {
	if userID == SystemAdminUserID {
		return &UserResponse{
			ID:         SystemAdminUserID,
			Username:   s.cfg.AdminName,
			Email:      s.cfg.AdminEmail,
			Role:       repository.RoleAdmin,
			IsVerified: true,
		}, nil
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &UserResponse{
		ID:         user.ID.String(),
		Username:   user.Username,
		Email:      user.Email,
		Role:       user.Role,
		IsVerified: user.IsVerified,
		CreatedAt:  user.CreatedAt,
		LastLogin:  user.LastLogin,
	}, nil
}

// ValidatePassword validates a password against complexity requirements
func (s *AuthService) ValidatePassword(password string) []PasswordValidationError {
	return s.passwordValidator.ValidatePassword(password)
}

func (s *AuthService) isSystemAdmin(email string) bool {
	return s.cfg.AdminEmail != "" && strings.EqualFold(email, s.cfg.AdminEmail)
}

// logActivity appends one log entry, best effort. The file-based
// administrator is exempt from activity logging.
func (s *AuthService) logActivity(ctx context.Context, userID, action, ipAddress, userAgent string, details map[string]any) {
	if userID == SystemAdminUserID {
		return
	}

	entry := &repository.UserActivity{
		UserID: userID,
		Action: action,
	}
	if ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent != "" {
		entry.UserAgent = &userAgent
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = data
		}
	}

	if err := s.activityRepo.Insert(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity", "user_id", userID, "action", action, "error", err)
		return
	}
	metrics.ActivityEntriesTotal.WithLabelValues(action).Inc()
}

// sendAsync delivers a message in the background, detached from the
// request context so an early client disconnect cannot cancel it
func (s *AuthService) sendAsync(msg mailer.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.dispatcher.Send(ctx, msg)
	}()
}

func (s *AuthService) verificationMessage(user *repository.User, token string) mailer.Message {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.FrontendURL, token)
	return mailer.Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Hello %s,\n\nConfirm your email address by opening this link:\n\n%s\n\nThe link expires in 24 hours.\n",
			user.Username, link),
	}
}

func (s *AuthService) otpMessage(user *repository.User, otp string) mailer.Message {
	return mailer.Message{
		To:      user.Email,
		Subject: "Your login verification code",
		Body: fmt.Sprintf("Hello %s,\n\nYour verification code is: %s\n\nIt expires in %d minutes. If you did not try to log in, change your password.\n",
			user.Username, otp, int(s.cfg.OTPExpiry.Minutes())),
	}
}

func (s *AuthService) unlockMessage(user *repository.User, token string, lockedUntil time.Time) mailer.Message {
	link := fmt.Sprintf("%s/unlock-account?token=%s", s.cfg.FrontendURL, token)
	return mailer.Message{
		To:      user.Email,
		Subject: "Your account has been locked",
		Body: fmt.Sprintf("Hello %s,\n\nYour account was locked after repeated failed login attempts. It unlocks automatically at %s, or you can unlock it now by choosing a new password:\n\n%s\n",
			user.Username, lockedUntil.Format(time.RFC1123), link),
	}
}

func (s *AuthService) resetMessage(user *repository.User, token string) mailer.Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.FrontendURL, token)
	return mailer.Message{
		To:      user.Email,
		Subject: "Password reset request",
		Body: fmt.Sprintf("Hello %s,\n\nReset your password by opening this link:\n\n%s\n\nThe link expires in 1 hour. If you did not request this, you can ignore this email.\n",
			user.Username, link),
	}
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
