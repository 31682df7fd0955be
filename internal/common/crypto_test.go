package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHashSeparatesInputs(t *testing.T) {
	key := []byte("key")
	assert.NotEqual(t, CalculateHash(key, "ab", "c"), CalculateHash(key, "a", "bc"))
	assert.Equal(t, CalculateHash(key, "lock", 7), CalculateHash(key, "lock", "7"))
	assert.NotEqual(t, CalculateHash(key, "lock", 7), CalculateHash([]byte("other"), "lock", 7))
	assert.Empty(t, CalculateHash(key))
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("master", "grid", 32)
	require.NoError(t, err)
	b, err := DeriveKey("master", "decoy", 32)
	require.NoError(t, err)
	again, err := DeriveKey("master", "grid", 32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	hexStr, err := RandomHex(4)
	require.NoError(t, err)
	assert.Len(t, hexStr, 8)
}
