package auth

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// otpRange covers the six-digit codes 100000 through 999999, so a code
// never needs zero padding.
var otpRange = big.NewInt(900000)

// GenerateOTP returns a random six-digit one-time code
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", err
	}
	return big.NewInt(0).Add(n, big.NewInt(100000)).String(), nil
}

// MaskEmail hides most of the local part of an address for display,
// e.g. "alice@example.com" becomes "al***@example.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}

	local := email[:at]
	visible := 2
	if len(local) < visible {
		visible = len(local)
	}

	return local[:visible] + "***" + email[at:]
}
