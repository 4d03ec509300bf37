package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *ExcerptCipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewExcerptCipherWithKey(key)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	plaintext := "I can't do this anymore"
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptNonceUnique(t *testing.T) {
	c := testCipher(t)

	first, err := c.Encrypt("same text")
	require.NoError(t, err)
	second, err := c.Encrypt("same text")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := testCipher(t)

	ciphertext, err := c.Encrypt("original")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c := testCipher(t)
	other := testCipher(t)

	ciphertext, err := c.Encrypt("original")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c := testCipher(t)

	_, err := c.Decrypt("not base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewExcerptCipherWithKeyRejectsBadSize(t *testing.T) {
	_, err := NewExcerptCipherWithKey([]byte("too short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestNewExcerptCipherFromEnv(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv("EXCERPT_KEY", base64.StdEncoding.EncodeToString(key))

	c, err := NewExcerptCipher()
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("hello")
	require.NoError(t, err)
	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello", decrypted)
}

func TestNewExcerptCipherMissingKey(t *testing.T) {
	t.Setenv("EXCERPT_KEY", "")
	_, err := NewExcerptCipher()
	assert.ErrorIs(t, err, ErrMasterKeyNotSet)
}
