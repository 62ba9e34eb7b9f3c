package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailAlreadyExists    = errors.New("email already exists")
	ErrUsernameAlreadyExists = errors.New("username already exists")
)

// UserRepository defines the interface for account data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	List(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)

	RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int) error
	Lock(ctx context.Context, id uuid.UUID, until time.Time, unlockToken string, tokenExpires time.Time) error
	Unlock(ctx context.Context, id uuid.UUID) error
	SetLoginOTP(ctx context.Context, id uuid.UUID, otp string, expires time.Time) error
	CompleteLogin(ctx context.Context, id uuid.UUID, refreshTokenHash string, at time.Time) error

	MarkVerified(ctx context.Context, id uuid.UUID) error
	SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
	ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	Deregister(ctx context.Context, id uuid.UUID, anonEmail, anonUsername string, at time.Time) error

	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdateOverrides(ctx context.Context, id uuid.UUID, permissions []string) error
	ListWithOverrides(ctx context.Context) ([]*User, error)
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `
	id, username, email, password_hash, auth_provider, role,
	is_verified, is_active,
	failed_login_attempts, is_locked, locked_until, unlock_token, unlock_token_expires,
	login_otp, login_otp_expires,
	refresh_token_hash, permission_overrides, last_login,
	is_deleted, deleted_at,
	created_at, updated_at
`

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.AuthProvider,
		&user.Role,
		&user.IsVerified,
		&user.IsActive,
		&user.FailedLoginAttempts,
		&user.IsLocked,
		&user.LockedUntil,
		&user.UnlockToken,
		&user.UnlockTokenExpires,
		&user.LoginOTP,
		&user.LoginOTPExpires,
		&user.RefreshTokenHash,
		&user.PermissionOverrides,
		&user.LastLogin,
		&user.IsDeleted,
		&user.DeletedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Create inserts a new user into the database
func (r *userRepository) Create(ctx context.Context, user *User) error {
	if user.AuthProvider == "" {
		user.AuthProvider = AuthProviderLocal
	}

	query := `
		INSERT INTO users (username, email, password_hash, auth_provider, role, is_verified, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.Username,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.AuthProvider,
		user.Role,
		user.IsVerified,
		true,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		// Check for unique constraint violations
		if strings.Contains(err.Error(), "idx_users_email") {
			return ErrEmailAlreadyExists
		}
		if strings.Contains(err.Error(), "idx_users_username") {
			return ErrUsernameAlreadyExists
		}
		return err
	}

	user.IsActive = true
	return nil
}

// GetByID retrieves a user by their ID. Deregistered accounts are excluded.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_deleted = FALSE`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by their email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetByUsername retrieves a user by their username (case-insensitive)
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1) AND is_deleted = FALSE`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// EmailExists checks if an email address is already registered (case-insensitive)
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// UsernameExists checks if a username is already taken (case-insensitive)
func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1) AND is_deleted = FALSE)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, username).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// List retrieves all non-deleted users, newest first
func (r *userRepository) List(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_deleted = FALSE ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// CountUsers returns the number of non-deleted accounts
func (r *userRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE is_deleted = FALSE`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RecordFailedLogin stores the updated failed attempt counter
func (r *userRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int) error {
	query := `
		UPDATE users
		SET failed_login_attempts = $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, attempts, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Lock marks the account locked and stores the unlock token in one statement
func (r *userRepository) Lock(ctx context.Context, id uuid.UUID, until time.Time, unlockToken string, tokenExpires time.Time) error {
	query := `
		UPDATE users
		SET is_locked = TRUE,
		    locked_until = $1,
		    unlock_token = $2,
		    unlock_token_expires = $3,
		    updated_at = NOW()
		WHERE id = $4 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, until.UTC(), unlockToken, tokenExpires.UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Unlock clears all lockout and challenge state and revokes the refresh
// token so existing sessions cannot outlive the unlock.
func (r *userRepository) Unlock(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET is_locked = FALSE,
		    locked_until = NULL,
		    unlock_token = NULL,
		    unlock_token_expires = NULL,
		    failed_login_attempts = 0,
		    login_otp = NULL,
		    login_otp_expires = NULL,
		    refresh_token_hash = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetLoginOTP stores a fresh challenge and resets the failure counter.
// A correct password ends the failure streak even before the code is entered.
func (r *userRepository) SetLoginOTP(ctx context.Context, id uuid.UUID, otp string, expires time.Time) error {
	query := `
		UPDATE users
		SET login_otp = $1,
		    login_otp_expires = $2,
		    failed_login_attempts = 0,
		    updated_at = NOW()
		WHERE id = $3 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, otp, expires.UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// CompleteLogin clears the consumed challenge, stores the new refresh token
// hash, and records the login time
func (r *userRepository) CompleteLogin(ctx context.Context, id uuid.UUID, refreshTokenHash string, at time.Time) error {
	query := `
		UPDATE users
		SET login_otp = NULL,
		    login_otp_expires = NULL,
		    refresh_token_hash = $1,
		    last_login = $2,
		    updated_at = NOW()
		WHERE id = $3 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, refreshTokenHash, at.UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// MarkVerified flags the account's email address as confirmed
func (r *userRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET is_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetRefreshToken replaces the stored refresh token hash
func (r *userRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error {
	query := `
		UPDATE users
		SET refresh_token_hash = $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, hash, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearRefreshToken revokes the stored refresh token
func (r *userRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET refresh_token_hash = NULL, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ChangePassword replaces the password hash for an authenticated change
func (r *userRepository) ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ResetPassword replaces the password hash and clears lockout, challenge,
// and refresh token state. A reset proves mailbox control, so it also
// doubles as an unlock.
func (r *userRepository) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1,
		    failed_login_attempts = 0,
		    is_locked = FALSE,
		    locked_until = NULL,
		    unlock_token = NULL,
		    unlock_token_expires = NULL,
		    login_otp = NULL,
		    login_otp_expires = NULL,
		    refresh_token_hash = NULL,
		    updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Deregister soft-deletes the account and anonymizes its identifiers so
// the original email and username become reusable
func (r *userRepository) Deregister(ctx context.Context, id uuid.UUID, anonEmail, anonUsername string, at time.Time) error {
	query := `
		UPDATE users
		SET email = $1,
		    username = $2,
		    is_deleted = TRUE,
		    deleted_at = $3,
		    is_active = FALSE,
		    refresh_token_hash = NULL,
		    login_otp = NULL,
		    login_otp_expires = NULL,
		    updated_at = NOW()
		WHERE id = $4 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, anonEmail, anonUsername, at.UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetActive enables or disables an account
func (r *userRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE users
		SET is_active = $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdateOverrides replaces the per-user permission override set
func (r *userRepository) UpdateOverrides(ctx context.Context, id uuid.UUID, permissions []string) error {
	query := `
		UPDATE users
		SET permission_overrides = $1, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE
	`

	result, err := r.pool.Exec(ctx, query, permissions, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ListWithOverrides returns users that carry at least one permission override
func (r *userRepository) ListWithOverrides(ctx context.Context) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_deleted = FALSE AND cardinality(permission_overrides) > 0
		ORDER BY username
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}
