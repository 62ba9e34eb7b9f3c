package repository

import (
	"time"

	"github.com/google/uuid"
)

// User represents a stored account with its credential and lifecycle state.
// The file-based system administrator is never stored here.
type User struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Username string    `db:"username" json:"username"`
	Email    string    `db:"email" json:"email"`
	// PasswordHash is nil for federated accounts, which never hold a
	// local credential.
	PasswordHash *string `db:"password_hash" json:"-"`
	AuthProvider string  `db:"auth_provider" json:"auth_provider"`
	Role         string  `db:"role" json:"role"`

	IsVerified bool `db:"is_verified" json:"is_verified"`
	IsActive   bool `db:"is_active" json:"is_active"`

	// Lockout state. LockedUntil is only meaningful while IsLocked is true.
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	IsLocked            bool       `db:"is_locked" json:"is_locked"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	UnlockToken         *string    `db:"unlock_token" json:"-"`
	UnlockTokenExpires  *time.Time `db:"unlock_token_expires" json:"-"`

	// Second-factor challenge issued after a correct password.
	LoginOTP        *string    `db:"login_otp" json:"-"`
	LoginOTPExpires *time.Time `db:"login_otp_expires" json:"-"`

	// SHA-256 hex of the currently valid refresh token, nil when logged out.
	RefreshTokenHash *string `db:"refresh_token_hash" json:"-"`

	// Permissions granted beyond what the role implies.
	PermissionOverrides []string `db:"permission_overrides" json:"permission_overrides"`

	LastLogin *time.Time `db:"last_login" json:"last_login,omitempty"`

	// Soft-delete state. A deregistered account keeps its row with
	// anonymized identifiers.
	IsDeleted bool       `db:"is_deleted" json:"-"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// UserActivity is one entry in the durable activity log. UserID is a plain
// string because some entries reference principals that have no user row.
type UserActivity struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	IPAddress *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string   `db:"user_agent" json:"user_agent,omitempty"`
	Details   []byte    `db:"details" json:"details,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Activity log actions
const (
	ActionLoginAttempt          = "LOGIN_ATTEMPT"
	ActionLoginSuccess          = "LOGIN_SUCCESS"
	ActionLoginFailed           = "LOGIN_FAILED"
	ActionLogout                = "LOGOUT"
	ActionForceLogout           = "FORCE_LOGOUT"
	ActionRegister              = "REGISTER"
	ActionEmailVerified         = "EMAIL_VERIFIED"
	ActionPasswordChanged       = "PASSWORD_CHANGED"
	ActionPasswordResetRequest  = "PASSWORD_RESET_REQUEST"
	ActionPasswordResetSuccess  = "PASSWORD_RESET_SUCCESS"
	ActionAccountDeleted        = "ACCOUNT_DELETED"
	ActionOTPGenerated          = "OTP_GENERATED"
	ActionOTPVerified           = "OTP_VERIFIED"
	ActionOTPFailed             = "OTP_FAILED"
	ActionAccountLocked         = "ACCOUNT_LOCKED"
	ActionAccountUnlocked       = "ACCOUNT_UNLOCKED"
	ActionAdminLoginSuccess     = "ADMIN_LOGIN_SUCCESS"
	ActionFederatedLogin        = "FEDERATED_LOGIN"
	ActionAdminSessionTerminate = "ADMIN_SESSION_TERMINATE"
	ActionTokenRefreshed        = "TOKEN_REFRESHED"
)

// Roles assignable to stored accounts
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Authentication providers
const (
	AuthProviderLocal     = "local"
	AuthProviderFederated = "federated"
)
