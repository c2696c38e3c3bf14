package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrWeakKey      = errors.New("signing key must be at least 256 bits")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Codec mints and parses HS256-signed session tokens. The server keeps no
// per-token state; the token itself carries subject, issued-at and expiry.
type Codec struct {
	key []byte
	ttl time.Duration
}

// NewCodec refuses a key shorter than 32 bytes. Config validates the same
// bound at startup; this guard keeps the codec safe to construct directly.
func NewCodec(key []byte, ttl time.Duration) (*Codec, error) {
	if len(key) < 32 {
		return nil, ErrWeakKey
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &Codec{key: key, ttl: ttl}, nil
}

// TTL returns the configured session lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue mints a signed token for the subject, expiring at now + TTL.
func (c *Codec) Issue(subject string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Subject verifies the token signature and claims and returns the embedded
// subject. A structurally broken or tampered token is ErrInvalidToken; a
// genuine but stale one is ErrTokenExpired.
func (c *Codec) Subject(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ExpiresAt returns the expiry claim of a signature-valid token without
// requiring the token to still be fresh. Logout uses this to size the
// revocation record: once past this timestamp the signature/expiry check
// alone rejects the token, so the blacklist row can be purged safely.
func (c *Codec) ExpiresAt(tokenString string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrInvalidToken
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired treats any unparsable token as expired, never as "valid with
// unknown expiry".
func (c *Codec) IsExpired(tokenString string, now time.Time) bool {
	expiresAt, err := c.ExpiresAt(tokenString)
	if err != nil {
		return true
	}
	return now.After(expiresAt)
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	return c.key, nil
}
