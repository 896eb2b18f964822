package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("S3cret", hash))
	assert.False(t, VerifyPassword("s3cret", "not-a-hash"))
}

func TestRandom(t *testing.T) {
	b, err := GenerateRandomBytes(16)
	require.NoError(t, err)
	assert.Len(t, b, 16)

	h1, err := GenerateRandomHex(2)
	require.NoError(t, err)
	h2, err := GenerateRandomHex(2)
	require.NoError(t, err)
	assert.Len(t, h1, 4)
	assert.Len(t, h2, 4)
}
