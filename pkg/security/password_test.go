package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordProducesDistinctSalts(t *testing.T) {
	hash1, salt1, err := HashPassword("correct horse")
	require.NoError(t, err)
	hash2, salt2, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifyPassword(t *testing.T) {
	hash, salt, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("correct horse", hash, salt))
	assert.False(t, VerifyPassword("wrong horse", hash, salt))
	assert.False(t, VerifyPassword("correct horse", hash, []byte("other salt")))
	assert.False(t, VerifyPassword("correct horse", nil, salt))
}

func TestGenerateTokenIsOpaqueAndUnique(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
