package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	h := fastHasher()
	encoded, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=64,t=1,p=1$"))

	ok, err := h.Verify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, other, "salts differ")
}

func TestPasswordVerifyMalformed(t *testing.T) {
	h := fastHasher()
	for _, encoded := range []string{
		"",
		"plain",
		"$2y$10$abcdefghijklmnopqrstuv",
		"$argon2i$v=19$m=64,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=64,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=64,t=1,p=1$!!$a2V5",
	} {
		_, err := h.Verify("x", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, encoded)
	}
}

func TestPasswordNeedsRehash(t *testing.T) {
	weak := NewPasswordHasher(32, 1, 1)
	encoded, err := weak.Hash("secret")
	require.NoError(t, err)

	assert.False(t, weak.NeedsRehash(encoded))
	assert.True(t, fastHasher().NeedsRehash(encoded))
	assert.True(t, fastHasher().NeedsRehash("garbage"))

	// parameters are read from the hash, so old hashes still verify
	ok, err := fastHasher().Verify("secret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokens(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.Len(t, HashToken(a), 64)
	assert.Equal(t, HashToken(a), HashToken(a))
}
