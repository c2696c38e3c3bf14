package hashing

import (
	"strings"
	"testing"

	"unisocial-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() *Hasher {
	cfg := &config.Config{}
	// Low-cost parameters keep the test fast; correctness is identical.
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	return NewHasher(cfg)
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	h := testHasher()

	encoded, err := h.HashPassword("Secret123!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	assert.True(t, h.VerifyPassword("Secret123!", encoded))
	assert.False(t, h.VerifyPassword("secret123!", encoded))
	assert.False(t, h.VerifyPassword("", encoded))
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	t.Parallel()
	h := testHasher()

	first, err := h.HashPassword("same-password")
	require.NoError(t, err)
	second, err := h.HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.VerifyPassword("same-password", first))
	assert.True(t, h.VerifyPassword("same-password", second))
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	t.Parallel()
	h := testHasher()

	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=8192,t=1,p=1$salt-only",
		"$argon2id$v=19$m=bogus$AAAA$BBBB",
		"$bcrypt$v=19$m=8192,t=1,p=1$AAAA$BBBB",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!!$BBBB",
	} {
		assert.False(t, h.VerifyPassword("whatever", bad), "hash %q should not verify", bad)
	}
}

func TestDecodeHash_WrongVersion(t *testing.T) {
	t.Parallel()

	_, _, _, err := decodeHash("$argon2id$v=18$m=8192,t=1,p=1$AAAA$BBBB")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
