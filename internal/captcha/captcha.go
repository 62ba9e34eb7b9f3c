// Package captcha verifies bot-challenge responses submitted with login
// requests.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verification errors
var (
	ErrVerificationFailed = errors.New("captcha verification failed")
)

// Verifier checks a challenge response token
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// RecaptchaConfig holds reCAPTCHA verification settings
type RecaptchaConfig struct {
	SecretKey string
	VerifyURL string
}

// RecaptchaVerifier validates tokens against the reCAPTCHA siteverify API
type RecaptchaVerifier struct {
	cfg    RecaptchaConfig
	client *http.Client
}

// NewRecaptchaVerifier creates a new RecaptchaVerifier instance
func NewRecaptchaVerifier(cfg RecaptchaConfig) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify submits the token to the siteverify endpoint
func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return ErrVerificationFailed
	}

	form := url.Values{}
	form.Set("secret", v.cfg.SecretKey)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha verify request: %w", err)
	}
	defer resp.Body.Close()

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("captcha verify response: %w", err)
	}

	if !result.Success {
		return ErrVerificationFailed
	}

	return nil
}

// StaticVerifier accepts or rejects every token. Used in development and
// tests when no captcha provider is configured.
type StaticVerifier struct {
	Allow bool
}

// Verify returns the configured outcome regardless of token
func (v *StaticVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if v.Allow {
		return nil
	}
	return ErrVerificationFailed
}
