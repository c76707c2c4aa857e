package store

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltLength = 16

type kdfParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

var defaultKDF = kdfParams{memory: 64 * 1024, iterations: 3, parallelism: 1}

// sealer encrypts every value with XChaCha20-Poly1305 under a key derived
// from the passphrase. The bucket key is bound as associated data so a
// value cannot be moved to another record.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(passphrase string, salt []byte, p kdfParams) (*sealer, error) {
	key := argon2.IDKey([]byte(passphrase), salt, p.iterations, p.memory, p.parallelism, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (s *sealer) open(ciphertext, ad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(ciphertext) < n+s.aead.Overhead() {
		return nil, ErrCorrupt
	}
	out, err := s.aead.Open(nil, ciphertext[:n], ciphertext[n:], ad)
	if err != nil {
		return nil, ErrCorrupt
	}
	return out, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return salt, nil
}
