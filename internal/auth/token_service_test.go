package auth

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Test configuration for property tests
func newTestTokenService() *TokenService {
	return NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret-key-32-chars!",
		RefreshSecret:      "test-refresh-secret-key-32-char!",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		VerificationExpiry: 24 * time.Hour,
		ResetExpiry:        time.Hour,
		UnlockExpiry:       24 * time.Hour,
		Issuer:             "test-issuer",
	})
}

func drawUserID(t *rapid.T) string {
	return rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(t, "userID")
}

func drawEmail(t *rapid.T) string {
	return rapid.StringMatching(`[a-z]{3,10}@[a-z]{3,10}\.[a-z]{2,3}`).Draw(t, "email")
}

// For any identity, a generated token pair validates with the same service
// and carries the identity back out of the claims.
func TestTokenPairRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := drawUserID(t)
		email := drawEmail(t)
		role := rapid.SampledFrom([]string{"user", "moderator", "admin"}).Draw(t, "role")

		svc := newTestTokenService()

		pair, err := svc.GenerateTokenPair(userID, email, role, false)
		if err != nil {
			t.Fatalf("failed to generate token pair: %v", err)
		}

		accessClaims, err := svc.ValidateAccessToken(pair.AccessToken)
		if err != nil {
			t.Fatalf("access token did not validate: %v", err)
		}
		if accessClaims.UserID() != userID {
			t.Errorf("access token user: expected %s, got %s", userID, accessClaims.UserID())
		}
		if accessClaims.Email != email {
			t.Errorf("access token email: expected %s, got %s", email, accessClaims.Email)
		}
		if accessClaims.Role != role {
			t.Errorf("access token role: expected %s, got %s", role, accessClaims.Role)
		}
		if accessClaims.IsSystemAdmin {
			t.Error("access token should not carry the system admin flag")
		}

		refreshClaims, err := svc.ValidateRefreshToken(pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh token did not validate: %v", err)
		}
		if refreshClaims.UserID() != userID {
			t.Errorf("refresh token user: expected %s, got %s", userID, refreshClaims.UserID())
		}
		if refreshClaims.ID == "" {
			t.Error("refresh token should carry a jti")
		}

		if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
			t.Errorf("expires_in: expected %d, got %d", int64((15*time.Minute).Seconds()), pair.ExpiresIn)
		}
	})
}

// Tokens of one type are rejected by the validators of every other type.
func TestTokenTypeConfusionRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := drawUserID(t)
		email := drawEmail(t)
		svc := newTestTokenService()

		access, err := svc.GenerateAccessToken(userID, email, "user", false)
		if err != nil {
			t.Fatalf("failed to generate access token: %v", err)
		}
		verification, err := svc.GenerateVerificationToken(userID, email)
		if err != nil {
			t.Fatalf("failed to generate verification token: %v", err)
		}
		reset, err := svc.GenerateResetToken(userID, email)
		if err != nil {
			t.Fatalf("failed to generate reset token: %v", err)
		}
		unlock, err := svc.GenerateUnlockToken(userID, email)
		if err != nil {
			t.Fatalf("failed to generate unlock token: %v", err)
		}

		if _, err := svc.ValidateAccessToken(verification); err == nil {
			t.Error("verification token accepted as access token")
		}
		if _, err := svc.ValidateVerificationToken(access); err == nil {
			t.Error("access token accepted as verification token")
		}
		if _, err := svc.ValidateResetToken(unlock); err == nil {
			t.Error("unlock token accepted as reset token")
		}
		if _, err := svc.ValidateUnlockToken(reset); err == nil {
			t.Error("reset token accepted as unlock token")
		}
		if _, err := svc.ValidateRefreshToken(access); err == nil {
			t.Error("access token accepted as refresh token")
		}
	})
}

// A token signed under one secret never validates under another.
func TestTokenRejectedAcrossSecrets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := drawUserID(t)
		email := drawEmail(t)

		svc := newTestTokenService()
		other := NewTokenService(TokenServiceConfig{
			AccessSecret:       "other-access-secret-key-32-char!",
			RefreshSecret:      "other-refresh-secret-key-32-cha!",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 30 * 24 * time.Hour,
			VerificationExpiry: 24 * time.Hour,
			ResetExpiry:        time.Hour,
			UnlockExpiry:       24 * time.Hour,
			Issuer:             "test-issuer",
		})

		pair, err := svc.GenerateTokenPair(userID, email, "user", false)
		if err != nil {
			t.Fatalf("failed to generate token pair: %v", err)
		}

		if _, err := other.ValidateAccessToken(pair.AccessToken); err == nil {
			t.Error("access token validated under a different secret")
		}
		if _, err := other.ValidateRefreshToken(pair.RefreshToken); err == nil {
			t.Error("refresh token validated under a different secret")
		}

		// The refresh secret must not validate access tokens either
		if _, err := svc.ValidateRefreshToken(pair.AccessToken); err == nil {
			t.Error("access token validated against the refresh secret")
		}
	})
}

// HashRefreshToken is deterministic and collision-distinct for distinct inputs.
func TestHashRefreshTokenDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc := newTestTokenService()

		token := rapid.StringMatching(`[A-Za-z0-9._-]{20,200}`).Draw(t, "token")
		other := rapid.StringMatching(`[A-Za-z0-9._-]{20,200}`).Draw(t, "other")

		h1 := svc.HashRefreshToken(token)
		h2 := svc.HashRefreshToken(token)
		if h1 != h2 {
			t.Errorf("hash not deterministic: %s vs %s", h1, h2)
		}
		if len(h1) != 64 {
			t.Errorf("expected 64 hex chars, got %d", len(h1))
		}
		if token != other && h1 == svc.HashRefreshToken(other) {
			t.Errorf("distinct tokens hashed to the same value")
		}
	})
}

func TestSystemAdminClaimPreserved(t *testing.T) {
	svc := newTestTokenService()

	token, err := svc.GenerateAccessToken(SystemAdminUserID, "admin@example.com", "admin", true)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("token did not validate: %v", err)
	}
	if !claims.IsSystemAdmin {
		t.Error("isSystemAdmin claim lost in round trip")
	}
	if claims.UserID() != SystemAdminUserID {
		t.Errorf("expected subject %s, got %s", SystemAdminUserID, claims.UserID())
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	svc := newTestTokenService()

	for _, token := range []string{"", "not-a-jwt", "a.b", strings.Repeat("x", 300)} {
		if _, err := svc.ValidateAccessToken(token); err == nil {
			t.Errorf("malformed token %q accepted", token)
		}
	}
}
