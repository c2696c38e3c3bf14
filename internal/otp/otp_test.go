package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode_Shape(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', "non-digit %q in code %q", c, code)
		}
	}
}

func TestGenerateCode_NotConstant(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// 50 draws from a million-value space collapsing to one value would mean
	// the random source is broken.
	assert.Greater(t, len(seen), 1)
}

func TestExpiryFrom(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, issued.Add(10*time.Minute), ExpiryFrom(issued))
}

func TestMatches(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	code := "482913"
	future := now.Add(5 * time.Minute)
	past := now.Add(-time.Second)

	tests := []struct {
		name      string
		provided  string
		stored    *string
		expiresAt *time.Time
		want      bool
	}{
		{"valid", code, &code, &future, true},
		{"wrong code", "000000", &code, &future, false},
		{"expired", code, &code, &past, false},
		{"no stored code", code, nil, &future, false},
		{"no expiry", code, &code, nil, false},
		{"empty provided", "", &code, &future, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.provided, tt.stored, tt.expiresAt, now))
		})
	}
}
