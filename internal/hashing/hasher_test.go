package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/config"
)

func testHasher() *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	return NewHasher(cfg)
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := h.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher()

	first, err := h.Hash("same password")
	require.NoError(t, err)
	second, err := h.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher()

	_, err := h.Verify("password", "not-a-phc-string")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.Verify("password", "$argon2id$v=19$bad")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestVerifySurvivesParameterChange(t *testing.T) {
	h := testHasher()
	encoded, err := h.Hash("password")
	require.NoError(t, err)

	// A hasher with different costs still verifies old hashes since the
	// parameters travel inside the encoded string
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 16 * 1024
	cfg.Hashing.Argon2TimeCost = 2
	cfg.Hashing.Argon2Parallelism = 2
	newer := NewHasher(cfg)

	ok, err := newer.Verify("password", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}
