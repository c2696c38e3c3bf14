package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unisocial-auth/internal/hashing"
	"unisocial-auth/internal/model"
	"unisocial-auth/internal/otp"
	"unisocial-auth/internal/repository/scylla"
	"unisocial-auth/internal/token"
	"unisocial-auth/internal/util"
)

var (
	ErrEmailConflict      = errors.New("email is already registered")
	ErrUsernameConflict   = errors.New("username is already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyVerified    = errors.New("account is already verified")
	ErrInvalidOTP         = errors.New("invalid or expired OTP")
	ErrNotVerified        = errors.New("account is not verified")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrLogoutFailed       = errors.New("logout failed")
)

// revocationCache is the fast path in front of the durable blacklist. Both
// methods are best-effort from the service's point of view.
type revocationCache interface {
	MarkRevoked(ctx context.Context, token string, expiresAt, now time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// outboxProducer publishes OTP-mail events after the user row is committed.
type outboxProducer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// NopOutbox stands in when no broker is configured; OTP codes then only
// reach users through whatever reads the store directly (dev setups).
type NopOutbox struct{}

func (NopOutbox) Produce(ctx context.Context, key, value []byte) error {
	util.Warn("OTP mail outbox disabled, dropping event")
	return nil
}

// AuthService owns the identity lifecycle: registration, OTP verification,
// login, logout and revocation checks. It keeps no per-identity state; every
// call round-trips through the repositories.
type AuthService struct {
	users     scylla.UserRepository
	blacklist scylla.BlacklistRepository
	cache     revocationCache
	outbox    outboxProducer
	hasher    *hashing.Hasher
	codec     *token.Codec

	now func() time.Time
}

func NewAuthService(
	users scylla.UserRepository,
	blacklist scylla.BlacklistRepository,
	cache revocationCache,
	outbox outboxProducer,
	hasher *hashing.Hasher,
	codec *token.Codec,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		blacklist: blacklist,
		cache:     cache,
		outbox:    outbox,
		hasher:    hasher,
		codec:     codec,
		now:       time.Now,
	}
}

type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// Register creates a disabled user with a fresh OTP and publishes the OTP
// mail to the outbox. The mail publish is decoupled: once the user row is
// committed, registration has succeeded even if the outbox is down.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) error {
	email := util.NormalizeEmail(input.Email)
	username := util.SanitizeInput(input.Username)
	now := s.now().UTC()

	code, err := otp.GenerateCode()
	if err != nil {
		return fmt.Errorf("failed to generate otp: %w", err)
	}
	expiresAt := otp.ExpiryFrom(now)

	passwordHash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Enabled:      false,
		OTPCode:      &code,
		OTPExpiresAt: &expiresAt,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, scylla.ErrEmailTaken):
			return ErrEmailConflict
		case errors.Is(err, scylla.ErrUsernameTaken):
			return ErrUsernameConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.publishOTPMail(ctx, email, code, now)
	return nil
}

func (s *AuthService) publishOTPMail(ctx context.Context, email, code string, requestedAt time.Time) {
	payload, err := json.Marshal(model.OTPMailMessage{
		Email:       email,
		Code:        code,
		RequestedAt: requestedAt,
	})
	if err != nil {
		util.Error("Failed to marshal OTP mail message", zap.Error(err))
		return
	}

	if err := s.outbox.Produce(ctx, []byte(email), payload); err != nil {
		// Registration already committed; the user can retry after the OTP
		// window lapses if the mail never arrives.
		util.Error("Failed to publish OTP mail event",
			zap.String("email", email),
			zap.Error(err))
	}
}

// VerifyOTP promotes a pending user to active. The conditional enable means
// that of two racing verification attempts exactly one wins; the loser sees
// the already-verified conflict.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) error {
	email = util.NormalizeEmail(email)
	now := s.now().UTC()

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if user.Enabled {
		return ErrAlreadyVerified
	}
	if !otp.Matches(code, user.OTPCode, user.OTPExpiresAt, now) {
		return ErrInvalidOTP
	}

	applied, err := s.users.EnableUser(ctx, email, code, now)
	if err != nil {
		return fmt.Errorf("failed to enable user: %w", err)
	}
	if !applied {
		return ErrAlreadyVerified
	}

	return nil
}

// Login checks credentials and mints a session token. An unknown email and a
// wrong password are indistinguishable to the caller; only the unverified
// state gets its own error.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	email = util.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	if !user.Enabled {
		return "", ErrNotVerified
	}
	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	signed, err := s.codec.Issue(user.Email, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return signed, nil
}

// Logout revokes the presented token until its natural expiry. An expired
// token is still accepted and recorded; only a token whose signature does not
// verify is rejected.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	expiresAt, err := s.codec.ExpiresAt(tokenString)
	if err != nil {
		return ErrInvalidToken
	}

	now := s.now().UTC()
	if err := s.blacklist.Revoke(ctx, tokenString, expiresAt, now); err != nil {
		return fmt.Errorf("%w: %v", ErrLogoutFailed, err)
	}

	if err := s.cache.MarkRevoked(ctx, tokenString, expiresAt, now); err != nil {
		// Durable revocation already holds; the cache just misses until
		// the first durable lookup backfills it.
		util.Warn("Failed to cache revocation", zap.Error(err))
	}

	return nil
}

// IsRevoked consults the cache first and the durable ledger on a miss. A
// durable-ledger failure propagates so callers reject the request instead of
// accepting a possibly revoked token.
func (s *AuthService) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	cached, err := s.cache.IsRevoked(ctx, tokenString)
	if err != nil {
		util.Warn("Revocation cache lookup failed, falling back to ledger", zap.Error(err))
	} else if cached {
		return true, nil
	}

	revoked, err := s.blacklist.IsRevoked(ctx, tokenString)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}

	if revoked {
		if expiresAt, expErr := s.codec.ExpiresAt(tokenString); expErr == nil {
			if cacheErr := s.cache.MarkRevoked(ctx, tokenString, expiresAt, s.now().UTC()); cacheErr != nil {
				util.Warn("Failed to backfill revocation cache", zap.Error(cacheErr))
			}
		}
	}

	return revoked, nil
}

// Authenticate validates a bearer token end to end: signature, expiry, then
// revocation. Returns the token subject on success.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (string, error) {
	subject, err := s.codec.Subject(tokenString)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	revoked, err := s.IsRevoked(ctx, tokenString)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", ErrTokenRevoked
	}

	return subject, nil
}

// PurgeExpiredTokens removes blacklist records whose expiry has passed and
// returns the number deleted.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int, error) {
	return s.blacklist.PurgeExpired(ctx, s.now().UTC())
}
