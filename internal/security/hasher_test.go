package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasherRoundTrip(t *testing.T) {
	h := NewHasher("pepper", bcrypt.MinCost)

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotContains(t, hash, "s3cret")

	require.NoError(t, h.Verify("s3cret", hash))
	assert.ErrorIs(t, h.Verify("wrong", hash), ErrHashMismatch)
}

func TestHasherSaltsEachHash(t *testing.T) {
	h := NewHasher("pepper", bcrypt.MinCost)

	first, err := h.Hash("token")
	require.NoError(t, err)
	second, err := h.Hash("token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHasherPepperMatters(t *testing.T) {
	hash, err := NewHasher("pepper-a", bcrypt.MinCost).Hash("token")
	require.NoError(t, err)

	assert.ErrorIs(t, NewHasher("pepper-b", bcrypt.MinCost).Verify("token", hash), ErrHashMismatch)
}

func TestParseRefreshToken(t *testing.T) {
	generated, err := GenerateRefreshToken()
	require.NoError(t, err)

	parsed, ok := ParseRefreshToken(generated.String())
	require.True(t, ok)
	assert.Equal(t, generated, parsed)

	for _, raw := range []string{"   ", "garbage-token", "not-a-uuid.secret", generated.LookupID + ".", generated.Secret} {
		_, ok = ParseRefreshToken(raw)
		assert.False(t, ok, raw)
	}
}
