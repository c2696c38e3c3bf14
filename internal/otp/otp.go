package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// CodeLength is the number of digits in a one-time passcode.
	CodeLength = 6
	// TTL is how long a freshly issued code stays valid.
	TTL = 10 * time.Minute
)

var ten = big.NewInt(10)

// GenerateCode returns a 6-digit numeric code. Each digit is drawn
// independently and uniformly from crypto/rand; a guessable OTP is a direct
// account-takeover vector, so a statistical PRNG is not acceptable here.
func GenerateCode() (string, error) {
	buf := make([]byte, 0, CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to draw otp digit: %w", err)
		}
		buf = append(buf, byte('0')+byte(n.Int64()))
	}
	return string(buf), nil
}

// ExpiryFrom returns the expiry for a code issued at the given time.
func ExpiryFrom(issuedAt time.Time) time.Time {
	return issuedAt.Add(TTL)
}

// IsExpired reports whether a stored expiry has passed. A missing expiry
// counts as expired.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || now.After(*expiresAt)
}

// Matches validates a provided code against the stored code and expiry.
func Matches(provided string, stored *string, expiresAt *time.Time, now time.Time) bool {
	if provided == "" || stored == nil {
		return false
	}
	if IsExpired(expiresAt, now) {
		return false
	}
	return provided == *stored
}
