package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Auth.MaxFailedAttempts != 3 {
		t.Errorf("expected 3 max failed attempts, got %d", cfg.Auth.MaxFailedAttempts)
	}
	if cfg.Auth.LockDuration != 30*time.Minute {
		t.Errorf("expected 30m lock duration, got %s", cfg.Auth.LockDuration)
	}
	if cfg.Auth.OTPExpiry != 10*time.Minute {
		t.Errorf("expected 10m OTP expiry, got %s", cfg.Auth.OTPExpiry)
	}
	if cfg.JWT.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("expected 15m access expiry, got %s", cfg.JWT.AccessTokenExpiry)
	}
	if cfg.JWT.RefreshTokenExpiry != 30*24*time.Hour {
		t.Errorf("expected 720h refresh expiry, got %s", cfg.JWT.RefreshTokenExpiry)
	}
	if cfg.Session.AbsoluteTimeout != 2*time.Hour {
		t.Errorf("expected 2h session timeout, got %s", cfg.Session.AbsoluteTimeout)
	}
}

func TestValidateDefaultsConsistent(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestValidateLockLongerThanUnlockToken(t *testing.T) {
	cfg := Load()
	cfg.Auth.LockDuration = 48 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when lock duration exceeds unlock token expiry")
	}
}

func TestValidateTimeoutExceedsLookback(t *testing.T) {
	cfg := Load()
	cfg.Session.AbsoluteTimeout = 48 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when session timeout exceeds reconciliation lookback")
	}
}

func TestValidateZeroMaxAttempts(t *testing.T) {
	cfg := Load()
	cfg.Auth.MaxFailedAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max failed attempts")
	}
}

func TestGetDurationEnvMinutesFallback(t *testing.T) {
	t.Setenv("TEST_DURATION_MINUTES", "45")
	if got := getDurationEnv("TEST_DURATION_MINUTES", time.Hour); got != 45*time.Minute {
		t.Errorf("expected 45m for bare minute value, got %s", got)
	}

	t.Setenv("TEST_DURATION_GO", "90m")
	if got := getDurationEnv("TEST_DURATION_GO", time.Hour); got != 90*time.Minute {
		t.Errorf("expected 90m for Go duration syntax, got %s", got)
	}

	if got := getDurationEnv("TEST_DURATION_UNSET", time.Hour); got != time.Hour {
		t.Errorf("expected default for unset variable, got %s", got)
	}
}
