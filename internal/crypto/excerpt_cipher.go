// Package crypto protects crisis-text excerpts at rest. Detection
// events store only AES-256-GCM ciphertext; the key never touches the
// database and is supplied through the environment.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"os"
)

var (
	ErrMasterKeyNotSet   = errors.New("EXCERPT_KEY not set in environment")
	ErrInvalidKeySize    = errors.New("invalid key size: must be 32 bytes for AES-256")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// ExcerptCipher encrypts and decrypts content excerpts.
type ExcerptCipher struct {
	key []byte
}

// NewExcerptCipher reads the base64-encoded 32-byte key from the
// EXCERPT_KEY environment variable.
func NewExcerptCipher() (*ExcerptCipher, error) {
	encoded := os.Getenv("EXCERPT_KEY")
	if encoded == "" {
		return nil, ErrMasterKeyNotSet
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	return &ExcerptCipher{key: key}, nil
}

// NewExcerptCipherWithKey builds a cipher around an explicit key.
func NewExcerptCipherWithKey(key []byte) (*ExcerptCipher, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	return &ExcerptCipher{key: key}, nil
}

// Encrypt returns base64-encoded ciphertext (nonce + ciphertext + tag).
func (c *ExcerptCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Nonce is prepended to the ciphertext
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (c *ExcerptCipher) Decrypt(ciphertextBase64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateKey generates a random 256-bit key, for provisioning.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
