package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Correct-Horse9", DefaultArgon2Params)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	// Same password hashes differently each time (random salt)
	hash2, err := HashPassword("Correct-Horse9", DefaultArgon2Params)
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Correct-Horse9", DefaultArgon2Params)
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		ok, err := VerifyPassword("Correct-Horse9", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password", func(t *testing.T) {
		ok, err := VerifyPassword("Wrong-Horse9", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed hash", func(t *testing.T) {
		_, err := VerifyPassword("anything", "not-a-phc-hash")
		assert.Error(t, err)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		_, err := VerifyPassword("anything", "$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA")
		assert.Error(t, err)
	})
}

func TestVerifyPasswordSurvivesParamChanges(t *testing.T) {
	// Hash with non-default params; verification reads them from the hash
	params := &Argon2Params{
		Memory:      32 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	hash, err := HashPassword("Correct-Horse9", params)
	require.NoError(t, err)

	ok, err := VerifyPassword("Correct-Horse9", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
