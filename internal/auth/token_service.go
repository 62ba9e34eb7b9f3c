package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	AccessTokenType       TokenType = "access"
	RefreshTokenType      TokenType = "refresh"
	VerificationTokenType TokenType = "email_verification"
	ResetTokenType        TokenType = "password_reset"
	UnlockTokenType       TokenType = "unlock"
)

// SystemAdminUserID is the subject used for the file-based administrator.
// It is a sentinel, not a stored account.
const SystemAdminUserID = "admin-system-user"

// Token validation errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims represents the JWT claims structure
type Claims struct {
	Email         string    `json:"email,omitempty"`
	Role          string    `json:"role,omitempty"`
	Type          TokenType `json:"type"`
	IsSystemAdmin bool      `json:"isSystemAdmin,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the user ID from the Subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService handles JWT token generation and validation. Refresh tokens
// are signed with their own secret; every other type shares the access
// secret so a leaked refresh key cannot mint access or lifecycle tokens.
type TokenService struct {
	accessSecret       string
	refreshSecret      string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	verificationExpiry time.Duration
	resetExpiry        time.Duration
	unlockExpiry       time.Duration
	issuer             string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	AccessSecret       string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	VerificationExpiry time.Duration
	ResetExpiry        time.Duration
	UnlockExpiry       time.Duration
	Issuer             string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		accessSecret:       cfg.AccessSecret,
		refreshSecret:      cfg.RefreshSecret,
		accessTokenExpiry:  cfg.AccessTokenExpiry,
		refreshTokenExpiry: cfg.RefreshTokenExpiry,
		verificationExpiry: cfg.VerificationExpiry,
		resetExpiry:        cfg.ResetExpiry,
		unlockExpiry:       cfg.UnlockExpiry,
		issuer:             cfg.Issuer,
	}
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // Access token expiry in seconds
}

// GenerateAccessToken generates a new access token. The role is stamped at
// issuance, so callers must pass the account's current role, not one read
// from an older token.
func (s *TokenService) GenerateAccessToken(userID, email, role string, isSystemAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:         email,
		Role:          role,
		Type:          AccessTokenType,
		IsSystemAdmin: isSystemAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.accessSecret))
}

// GenerateRefreshToken generates a new refresh token for the given user
func (s *TokenService) GenerateRefreshToken(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Type: RefreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTokenExpiry)),
			ID:        uuid.New().String(), // Unique ID for refresh token
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.refreshSecret))
}

// GenerateTokenPair generates both access and refresh tokens
func (s *TokenService) GenerateTokenPair(userID, email, role string, isSystemAdmin bool) (*TokenPair, error) {
	accessToken, err := s.GenerateAccessToken(userID, email, role, isSystemAdmin)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.GenerateRefreshToken(userID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenExpiry.Seconds()),
	}, nil
}

// GenerateVerificationToken generates an email verification token
func (s *TokenService) GenerateVerificationToken(userID, email string) (string, error) {
	return s.generateLifecycleToken(userID, email, VerificationTokenType, s.verificationExpiry)
}

// GenerateResetToken generates a password reset token
func (s *TokenService) GenerateResetToken(userID, email string) (string, error) {
	return s.generateLifecycleToken(userID, email, ResetTokenType, s.resetExpiry)
}

// GenerateUnlockToken generates an account unlock token
func (s *TokenService) GenerateUnlockToken(userID, email string) (string, error) {
	return s.generateLifecycleToken(userID, email, UnlockTokenType, s.unlockExpiry)
}

func (s *TokenService) generateLifecycleToken(userID, email string, tokenType TokenType, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.accessSecret))
}

// ValidateAccessToken validates an access token and returns the claims
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, s.accessSecret, AccessTokenType)
}

// ValidateRefreshToken validates a refresh token and returns the claims
func (s *TokenService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, s.refreshSecret, RefreshTokenType)
}

// ValidateVerificationToken validates an email verification token
func (s *TokenService) ValidateVerificationToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, s.accessSecret, VerificationTokenType)
}

// ValidateResetToken validates a password reset token
func (s *TokenService) ValidateResetToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, s.accessSecret, ResetTokenType)
}

// ValidateUnlockToken validates an account unlock token
func (s *TokenService) ValidateUnlockToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, s.accessSecret, UnlockTokenType)
}

// validateToken validates a JWT token with the given secret and expected type
func (s *TokenService) validateToken(tokenString, secret string, expectedType TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Verify token type
	if claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}

// HashRefreshToken creates a SHA-256 hash of the refresh token for storage
func (s *TokenService) HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// GetAccessTokenExpiry returns the access token expiry duration
func (s *TokenService) GetAccessTokenExpiry() time.Duration {
	return s.accessTokenExpiry
}

// GetRefreshTokenExpiry returns the refresh token expiry duration
func (s *TokenService) GetRefreshTokenExpiry() time.Duration {
	return s.refreshTokenExpiry
}
