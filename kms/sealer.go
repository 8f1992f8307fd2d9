package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealInfoPrefix = "pod-consent-gateway/wallet-key/v1:"

// Sealer encrypts and decrypts secrets with keys derived from a master key.
type Sealer struct {
	masterKey []byte
	mu        sync.RWMutex
}

// NewSealer creates a Sealer with the provided master key.
// The master key must be at least 32 bytes long.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Sealer{masterKey: key}, nil
}

// NewSealerFromPassphrase derives the master key from a passphrase with argon2id.
func NewSealerFromPassphrase(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < 8 {
		return nil, errors.New("salt must be at least 8 bytes")
	}

	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	return NewSealer(argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32))
}

// deriveUserKey derives the sealing key bound to a user identity.
func (s *Sealer) deriveUserKey(user interfaces.UserIdentity) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reader := hkdf.New(sha256.New, s.masterKey, nil, []byte(sealInfoPrefix+user.String()))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for the user.
func (s *Sealer) Seal(user interfaces.UserIdentity, plaintext []byte) ([]byte, error) {
	key, err := s.deriveUserKey(user)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, []byte(user)), nil
}

// Open decrypts a secret sealed for the user.
func (s *Sealer) Open(user interfaces.UserIdentity, sealed []byte) ([]byte, error) {
	key, err := s.deriveUserKey(user)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed data too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(user))
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed data: %w", err)
	}
	return plaintext, nil
}
