// Package cryptox seals credential material before it is written to the
// database. Keys are derived from the configured secret with Argon2id and
// payloads are encrypted with XChaCha20-Poly1305.
package cryptox

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMalformed = errors.New("malformed sealed payload")

// DeriveKey stretches secret into a 32-byte key.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// Sealer encrypts and decrypts short secrets (tokens).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from secret and salt and prepares the AEAD.
func NewSealer(secret, salt []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	key := DeriveKey(secret, salt)
	defer common.WipeByteArray(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext. An empty plaintext seals to nil so that
// "no credential" stays NULL in storage.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := common.GenerateRandByteArray(s.aead.NonceSize())
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, []byte(plaintext), nil), nil
}

// Open reverses Seal. Nil or empty input opens to "".
func (s *Sealer) Open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return "", ErrMalformed
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}
