package credcrypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)

	sealed, err := s.Seal("access-sandbox-123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "access-sandbox-123")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-123", plain)
}

func TestSealer_FreshNoncePerSeal(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)

	a, err := s.Seal("same")
	require.NoError(t, err)
	b, err := s.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSealer_WrongKeyFails(t *testing.T) {
	s1, err := New(testKey())
	require.NoError(t, err)
	s2, err := New(bytes.Repeat([]byte{0x07}, KeySize))
	require.NoError(t, err)

	sealed, err := s1.Seal("secret")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestOpen_RejectsGarbage(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)

	_, err = s.Open("not base64!")
	assert.Error(t, err)

	_, err = s.Open("YWJj") // "abc", shorter than a nonce.
	assert.Error(t, err)
}
