package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString(t *testing.T) {
	s, err := MakeRandHexString(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	s2, err := MakeRandHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, s, s2)
}

func TestWipeByteArray(t *testing.T) {
	b := []byte("secret")
	WipeByteArray(b)
	assert.Equal(t, make([]byte, 6), b)

	// nil must not panic
	WipeByteArray(nil)
}

func TestGenerateRandByteArray(t *testing.T) {
	b := GenerateRandByteArray(32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, make([]byte, 32), b)
}
