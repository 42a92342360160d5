package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte("secret-key")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(secret, salt)
	key2 := DeriveKey(secret, salt)

	assert.Len(t, key1, 32)
	assert.True(t, bytes.Equal(key1, key2), "same inputs must give the same key")
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	secret := []byte("secret-key")
	assert.False(t, bytes.Equal(DeriveKey(secret, []byte("salt-1")), DeriveKey(secret, []byte("salt-2"))))
}

func TestSealer_SealOpen(t *testing.T) {
	s, err := NewSealer([]byte("secret-key"), []byte("cv-offline"))
	require.NoError(t, err)

	sealed, err := s.Seal("eyJhbGciOiJIUzI1NiJ9.payload.sig")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	again, err := s.Seal("eyJhbGciOiJIUzI1NiJ9.payload.sig")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between seals")

	got, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.payload.sig", got)
}

func TestSealer_EmptyValues(t *testing.T) {
	s, err := NewSealer([]byte("k"), nil)
	require.NoError(t, err)

	sealed, err := s.Seal("")
	require.NoError(t, err)
	assert.Nil(t, sealed)

	got, err := s.Open(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSealer_OpenRejectsTamperedOrForeign(t *testing.T) {
	a, err := NewSealer([]byte("key-a"), []byte("salt"))
	require.NoError(t, err)
	b, err := NewSealer([]byte("key-b"), []byte("salt"))
	require.NoError(t, err)

	sealed, err := a.Seal("refresh-token")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = a.Open(sealed)
	assert.Error(t, err)

	_, err = a.Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewSealer_EmptySecret(t *testing.T) {
	_, err := NewSealer(nil, []byte("salt"))
	assert.Error(t, err)
}
