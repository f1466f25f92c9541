package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshToken_HexAndUnique(t *testing.T) {
	a, err := NewRefreshToken()
	require.NoError(t, err)
	b, err := NewRefreshToken()
	require.NoError(t, err)

	assert.Len(t, a, 64) // 32 random bytes, hex encoded
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[0-9a-f]+$", a)
}

func TestHashAndMatches(t *testing.T) {
	secret, err := NewRefreshToken()
	require.NoError(t, err)

	hash := Hash(secret)
	assert.NotEqual(t, secret, hash)
	assert.Len(t, hash, 64) // sha256 hex

	assert.True(t, Matches(hash, secret))
	assert.False(t, Matches(hash, secret+"x"))
	assert.False(t, Matches(hash, ""))
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("123456"), Hash("123456"))
	assert.NotEqual(t, Hash("123456"), Hash("123457"))
}
