// Package crypto seals the secrets of the process configuration, the
// database password and the peer secret, so they can be kept in files and
// environments that are not themselves secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// SealedPrefix marks a configuration value as sealed.
const SealedPrefix = "enc:"

var (
	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid credentials key: must not be empty")
	// ErrDecryptionFailed is returned for bad ciphertext or a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
	// ErrNoKey is returned when a sealed value is revealed without a key.
	ErrNoKey = errors.New("sealed value found but no credentials key is configured")
)

// CredentialEncryptor seals values with AES-256-GCM.
type CredentialEncryptor struct {
	gcm cipher.AEAD
}

// NewCredentialEncryptor creates an encryptor from a key string: either a
// base64-encoded 32-byte key (openssl rand -base64 32) or any passphrase,
// which is hashed to 32 bytes with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	var key []byte
	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CredentialEncryptor{gcm: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext || tag). The empty string
// stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *CredentialEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}
	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// Seal encrypts value into its configuration form, SealedPrefix followed
// by the ciphertext.
func (e *CredentialEncryptor) Seal(value string) (string, error) {
	enc, err := e.Encrypt(value)
	if err != nil || enc == "" {
		return enc, err
	}
	return SealedPrefix + enc, nil
}

// IsSealed reports whether value carries SealedPrefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Reveal returns the plaintext of a sealed value and any other value
// unchanged. e may be nil when no key is configured; revealing a sealed
// value then fails with ErrNoKey.
func Reveal(e *CredentialEncryptor, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if e == nil {
		return "", ErrNoKey
	}
	return e.Decrypt(strings.TrimPrefix(value, SealedPrefix))
}
