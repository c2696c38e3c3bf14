package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestNewCodec_RejectsWeakKey(t *testing.T) {
	t.Parallel()

	_, err := NewCodec([]byte("short"), time.Hour)
	assert.ErrorIs(t, err, ErrWeakKey)

	_, err = NewCodec(nil, time.Hour)
	assert.ErrorIs(t, err, ErrWeakKey)

	_, err = NewCodec(testKey, 0)
	assert.Error(t, err)
}

func TestIssueAndSubject_RoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testKey, time.Hour)
	require.NoError(t, err)

	now := time.Now()
	tok, err := codec.Issue("alice@example.com", now)
	require.NoError(t, err)

	subject, err := codec.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestExpiresAt_EmbedsConfiguredTTL(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testKey, 30*time.Minute)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	tok, err := codec.Issue("bob@example.com", now)
	require.NoError(t, err)

	expiresAt, err := codec.ExpiresAt(tok)
	require.NoError(t, err)
	assert.True(t, expiresAt.Equal(now.Add(30*time.Minute)))
}

func TestSubject_ExpiredToken(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testKey, time.Minute)
	require.NoError(t, err)

	tok, err := codec.Issue("carol@example.com", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = codec.Subject(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// Logout still needs the expiry of a stale token.
	expiresAt, err := codec.ExpiresAt(tok)
	require.NoError(t, err)
	assert.True(t, codec.IsExpired(tok, time.Now()))
	assert.True(t, expiresAt.Before(time.Now()))
}

func TestSubject_TamperedAndMalformed(t *testing.T) {
	t.Parallel()

	codec, err := NewCodec(testKey, time.Hour)
	require.NoError(t, err)

	tok, err := codec.Issue("dave@example.com", time.Now())
	require.NoError(t, err)

	// Flip a character in the payload segment.
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = codec.Subject(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.Subject("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.ExpiresAt("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, codec.IsExpired("garbage", time.Now()))
}

func TestSubject_WrongKey(t *testing.T) {
	t.Parallel()

	issuer, err := NewCodec(testKey, time.Hour)
	require.NoError(t, err)
	verifier, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)

	tok, err := issuer.Issue("eve@example.com", time.Now())
	require.NoError(t, err)

	_, err = verifier.Subject(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
