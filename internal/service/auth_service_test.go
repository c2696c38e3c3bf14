package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unisocial-auth/internal/config"
	"unisocial-auth/internal/hashing"
	"unisocial-auth/internal/model"
	"unisocial-auth/internal/repository/scylla"
	"unisocial-auth/internal/token"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	usernames map[string]bool
	err       error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:     make(map[string]*model.User),
		usernames: make(map[string]bool),
	}
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[user.Email]; ok {
		return scylla.ErrEmailTaken
	}
	if f.usernames[user.Username] {
		return scylla.ErrUsernameTaken
	}
	f.usernames[user.Username] = true
	cp := *user
	f.users[user.Email] = &cp
	return nil
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[email]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeUserRepo) EnableUser(ctx context.Context, email, otpCode string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	user, ok := f.users[email]
	if !ok || user.Enabled || user.OTPCode == nil || *user.OTPCode != otpCode {
		return false, nil
	}
	user.Enabled = true
	user.OTPCode = nil
	user.OTPExpiresAt = nil
	user.UpdatedAt = now
	return true, nil
}

func (f *fakeUserRepo) HealthCheck(ctx context.Context) error { return nil }

type fakeBlacklist struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	err    error
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{tokens: make(map[string]time.Time)}
}

func (f *fakeBlacklist) Revoke(ctx context.Context, token string, expiresAt, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tokens[token] = expiresAt
	return nil
}

func (f *fakeBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.tokens[token]
	return ok, nil
}

func (f *fakeBlacklist) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	deleted := 0
	for token, expiresAt := range f.tokens {
		if expiresAt.Before(now) {
			delete(f.tokens, token)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeBlacklist) HealthCheck(ctx context.Context) error { return nil }

type fakeCache struct {
	mu     sync.Mutex
	tokens map[string]bool
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{tokens: make(map[string]bool)}
}

func (f *fakeCache) MarkRevoked(ctx context.Context, token string, expiresAt, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tokens[token] = true
	return nil
}

func (f *fakeCache) IsRevoked(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.tokens[token], nil
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (f *fakeOutbox) Produce(ctx context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, value)
	return nil
}

type testEnv struct {
	svc       *AuthService
	users     *fakeUserRepo
	blacklist *fakeBlacklist
	cache     *fakeCache
	outbox    *fakeOutbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}

	codec, err := token.NewCodec(testSigningKey, 24*time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		users:     newFakeUserRepo(),
		blacklist: newFakeBlacklist(),
		cache:     newFakeCache(),
		outbox:    &fakeOutbox{},
	}
	env.svc = NewAuthService(env.users, env.blacklist, env.cache, env.outbox,
		hashing.NewHasher(cfg), codec, nil)
	return env
}

// register creates and verifies a user, returning the stored OTP code used.
func (e *testEnv) register(t *testing.T, email, username, password string) string {
	t.Helper()
	require.NoError(t, e.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
	}))
	user := e.users.users[email]
	require.NotNil(t, user)
	require.NotNil(t, user.OTPCode)
	return *user.OTPCode
}

func TestRegister(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")

	user := env.users.users["alice@example.com"]
	assert.False(t, user.Enabled)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)
	require.NotNil(t, user.OTPExpiresAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *user.OTPExpiresAt, time.Minute)

	require.Len(t, env.outbox.messages, 1)
	var mail model.OTPMailMessage
	require.NoError(t, json.Unmarshal(env.outbox.messages[0], &mail))
	assert.Equal(t, "alice@example.com", mail.Email)
	assert.Equal(t, code, mail.Code)

	err := env.svc.Register(ctx, RegisterInput{
		Email: "alice@example.com", Username: "other", Password: "x",
	})
	assert.ErrorIs(t, err, ErrEmailConflict)

	err = env.svc.Register(ctx, RegisterInput{
		Email: "bob@example.com", Username: "alice", Password: "x",
	})
	assert.ErrorIs(t, err, ErrUsernameConflict)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.register(t, "  Alice@Example.COM ", "alice", "s3cret-pass")
	assert.Contains(t, env.users.users, "alice@example.com")
}

func TestRegisterSucceedsWhenOutboxDown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.outbox.err = errors.New("broker unreachable")

	err := env.svc.Register(context.Background(), RegisterInput{
		Email: "alice@example.com", Username: "alice", Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Contains(t, env.users.users, "alice@example.com")
}

func TestVerifyOTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")

	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "nobody@example.com", code), ErrUserNotFound)
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "alice@example.com", "000000"), ErrInvalidOTP)

	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))
	user := env.users.users["alice@example.com"]
	assert.True(t, user.Enabled)
	assert.Nil(t, user.OTPCode)

	// Second attempt, even with the right code, is a conflict.
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "alice@example.com", code), ErrAlreadyVerified)
}

func TestVerifyOTPExpiredCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")

	env.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.ErrorIs(t, env.svc.VerifyOTP(ctx, "alice@example.com", code), ErrInvalidOTP)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")

	_, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrNotVerified)

	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))

	_, err = env.svc.Login(ctx, "nobody@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, "alice@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	signed, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	subject, err := env.svc.Authenticate(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestLogoutRevokesToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")
	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))
	signed, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, signed))

	revoked, err := env.svc.IsRevoked(ctx, signed)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = env.svc.Authenticate(ctx, signed)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Revocation is idempotent.
	require.NoError(t, env.svc.Logout(ctx, signed))
}

func TestLogoutInvalidToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.svc.Logout(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Empty(t, env.blacklist.tokens)
}

func TestLogoutExpiredTokenStillRecorded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	codec, err := token.NewCodec(testSigningKey, 24*time.Hour)
	require.NoError(t, err)
	stale, err := codec.Issue("alice@example.com", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(context.Background(), stale))
	expiresAt, ok := env.blacklist.tokens[stale]
	require.True(t, ok)
	assert.True(t, expiresAt.Before(time.Now()))
}

func TestIsRevokedFailsClosed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")
	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))
	signed, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	env.blacklist.err = errors.New("ledger unavailable")

	_, err = env.svc.IsRevoked(ctx, signed)
	assert.Error(t, err)

	_, err = env.svc.Authenticate(ctx, signed)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenRevoked)
}

func TestIsRevokedCacheOutageFallsBackToLedger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")
	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))
	signed, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, env.svc.Logout(ctx, signed))

	env.cache.err = errors.New("cache down")

	revoked, err := env.svc.IsRevoked(ctx, signed)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsRevokedBackfillsCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.register(t, "alice@example.com", "alice", "s3cret-pass")
	require.NoError(t, env.svc.VerifyOTP(ctx, "alice@example.com", code))
	signed, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	// Revocation landed in the ledger but not the cache.
	require.NoError(t, env.blacklist.Revoke(ctx, signed, time.Now().Add(time.Hour), time.Now()))

	revoked, err := env.svc.IsRevoked(ctx, signed)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, env.cache.tokens[signed])
}

func TestAuthenticateRejectsExpiredAndGarbage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	codec, err := token.NewCodec(testSigningKey, 24*time.Hour)
	require.NoError(t, err)
	stale, err := codec.Issue("alice@example.com", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, stale)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = env.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPurgeExpiredTokens(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, env.blacklist.Revoke(ctx, "stale-1", now.Add(-time.Hour), now))
	require.NoError(t, env.blacklist.Revoke(ctx, "stale-2", now.Add(-time.Minute), now))
	require.NoError(t, env.blacklist.Revoke(ctx, "live-1", now.Add(time.Hour), now))

	deleted, err := env.svc.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Contains(t, env.blacklist.tokens, "live-1")

	deleted, err = env.svc.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
