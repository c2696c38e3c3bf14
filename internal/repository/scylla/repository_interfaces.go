package scylla

import (
	"context"
	"errors"
	"time"

	"unisocial-auth/internal/model"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// UserRepository is the user directory consumed by the auth service.
type UserRepository interface {
	// CreateUser persists a disabled user with its pending OTP. Returns
	// ErrEmailTaken or ErrUsernameTaken on uniqueness violations, with email
	// checked first.
	CreateUser(ctx context.Context, user *model.User) error

	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// EnableUser atomically flips enabled to true and clears the OTP fields,
	// but only while the user is still disabled and the stored code equals
	// otpCode. Returns whether the update was applied.
	EnableUser(ctx context.Context, email, otpCode string, now time.Time) (bool, error)

	HealthCheck(ctx context.Context) error
}

// BlacklistRepository is the durable revocation ledger.
type BlacklistRepository interface {
	// Revoke records a token until its natural expiry. Idempotent: revoking
	// the same token twice succeeds without a distinct record.
	Revoke(ctx context.Context, token string, expiresAt, now time.Time) error

	IsRevoked(ctx context.Context, token string) (bool, error)

	// PurgeExpired deletes every record whose expiry is before now and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	HealthCheck(ctx context.Context) error
}
