package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Auth       AuthConfig
	Session    SessionConfig
	Admin      AdminConfig
	Email      EmailConfig
	Captcha    CaptchaConfig
	Federation FederationConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        string
	FrontendURL string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// JWTConfig holds token signing configuration.
// AccessSecret also signs email-verification, unlock, and password-reset
// tokens; RefreshSecret is independent so a refresh-token compromise cannot
// forge access tokens.
type JWTConfig struct {
	AccessSecret       string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	VerificationExpiry time.Duration
	ResetExpiry        time.Duration
	Issuer             string
}

// AuthConfig holds login state-machine tuning
type AuthConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	UnlockTokenExpiry time.Duration
	OTPExpiry         time.Duration
	CaptchaBypass     string
}

// SessionConfig holds session tracker and reconciliation tuning
type SessionConfig struct {
	AbsoluteTimeout   time.Duration
	IdleSweepHorizon  time.Duration
	SweepInterval     time.Duration
	LookbackWindow    time.Duration
	ActivityRetention time.Duration
}

// AdminConfig holds the file-based system administrator identity.
// This principal never exists in the credential store.
type AdminConfig struct {
	Email    string
	Password string
	Name     string
}

// EmailConfig holds outbound SMTP configuration. An empty Host disables
// real delivery and messages are logged instead.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// CaptchaConfig holds the bot-challenge verifier configuration
type CaptchaConfig struct {
	SecretKey string
	VerifyURL string
}

// FederationConfig holds the federated sign-in verifier configuration.
// An empty client ID disables the federated login endpoint.
type FederationConfig struct {
	GoogleClientID string
	TokenInfoURL   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "auth_console"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			AccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  getDurationEnv("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 30*24*time.Hour),
			VerificationExpiry: getDurationEnv("JWT_VERIFICATION_EXPIRY", 24*time.Hour),
			ResetExpiry:        getDurationEnv("JWT_RESET_EXPIRY", time.Hour),
			Issuer:             getEnv("JWT_ISSUER", "auth-console"),
		},
		Auth: AuthConfig{
			MaxFailedAttempts: getIntEnv("AUTH_MAX_FAILED_ATTEMPTS", 3),
			LockDuration:      getDurationEnv("AUTH_LOCK_DURATION", 30*time.Minute),
			UnlockTokenExpiry: getDurationEnv("AUTH_UNLOCK_TOKEN_EXPIRY", 24*time.Hour),
			OTPExpiry:         getDurationEnv("AUTH_OTP_EXPIRY", 10*time.Minute),
			CaptchaBypass:     getEnv("AUTH_CAPTCHA_BYPASS", "admin-bypass"),
		},
		Session: SessionConfig{
			AbsoluteTimeout:   getDurationEnv("SESSION_ABSOLUTE_TIMEOUT", 2*time.Hour),
			IdleSweepHorizon:  getDurationEnv("SESSION_IDLE_SWEEP_HORIZON", 24*time.Hour),
			SweepInterval:     getDurationEnv("SESSION_SWEEP_INTERVAL", time.Hour),
			LookbackWindow:    getDurationEnv("SESSION_LOOKBACK_WINDOW", 24*time.Hour),
			ActivityRetention: getDurationEnv("ACTIVITY_RETENTION", 90*24*time.Hour),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", "admin@yourdomain.com"),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Name:     getEnv("ADMIN_NAME", "System Administrator"),
		},
		Email: EmailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@auth-console.local"),
		},
		Captcha: CaptchaConfig{
			SecretKey: getEnv("RECAPTCHA_SECRET_KEY", ""),
			VerifyURL: getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		},
		Federation: FederationConfig{
			GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
			TokenInfoURL:   getEnv("GOOGLE_TOKENINFO_URL", ""),
		},
	}
}

// Validate checks cross-field consistency of the timing constants.
// The lock must be able to expire while its unlock token is still valid,
// and reconciliation must look back at least as far as the absolute
// session timeout.
func (c *Config) Validate() error {
	if c.Auth.LockDuration >= c.Auth.UnlockTokenExpiry {
		return fmt.Errorf("config: lock duration (%s) must be shorter than unlock token expiry (%s)",
			c.Auth.LockDuration, c.Auth.UnlockTokenExpiry)
	}
	if c.Session.AbsoluteTimeout > c.Session.LookbackWindow {
		return fmt.Errorf("config: session absolute timeout (%s) must not exceed reconciliation lookback (%s)",
			c.Session.AbsoluteTimeout, c.Session.LookbackWindow)
	}
	if c.Auth.MaxFailedAttempts < 1 {
		return fmt.Errorf("config: max failed attempts must be at least 1, got %d", c.Auth.MaxFailedAttempts)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by the migration tool
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration syntax ("30m", "24h") or a bare number of minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
