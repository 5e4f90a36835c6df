package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)

	ciphertext, err := Encrypt([]byte("sensitive payload"), key)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "sensitive payload")

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("sensitive payload"), plaintext)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	key := randomKey(t)

	first, err := Encrypt([]byte("same input"), key)
	require.NoError(t, err)
	second, err := Encrypt([]byte("same input"), key)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "nonce reuse would be catastrophic")
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	ciphertext, err := Encrypt([]byte("payload"), randomKey(t))
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, randomKey(t))
	require.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	key := randomKey(t)

	_, err := Decrypt("not base64 at all!!", key)
	require.Error(t, err)

	// Valid base64, too short to carry a nonce.
	_, err = Decrypt("AAAA", key)
	require.Error(t, err)
}

func TestEncryptRejectsBadKeySize(t *testing.T) {
	_, err := Encrypt([]byte("payload"), []byte("short"))
	require.Error(t, err)
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(24)
	require.NoError(t, err)
	second, err := GenerateToken(24)
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestDeriveKeyArgon2idDeterministic(t *testing.T) {
	params := Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32}
	salt := bytes.Repeat([]byte{0x01}, 16)

	first, err := DeriveKeyArgon2id([]byte("master"), salt, params)
	require.NoError(t, err)
	second, err := DeriveKeyArgon2id([]byte("master"), salt, params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 32)

	otherSalt, err := DeriveKeyArgon2id([]byte("master"), bytes.Repeat([]byte{0x02}, 16), params)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherSalt)

	otherSecret, err := DeriveKeyArgon2id([]byte("other"), salt, params)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherSecret)
}

func TestDeriveKeyArgon2idValidation(t *testing.T) {
	good := Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32}
	salt := bytes.Repeat([]byte{0x01}, 16)

	_, err := DeriveKeyArgon2id(nil, salt, good)
	require.Error(t, err, "secret required")

	_, err = DeriveKeyArgon2id([]byte("master"), []byte("short"), good)
	require.Error(t, err, "salt too short")

	bad := good
	bad.Time = 0
	_, err = DeriveKeyArgon2id([]byte("master"), salt, bad)
	require.Error(t, err)

	bad = good
	bad.KeyLength = 17
	_, err = DeriveKeyArgon2id([]byte("master"), salt, bad)
	require.Error(t, err)
}

func TestDefaultArgon2ParamsAreValid(t *testing.T) {
	require.NoError(t, DefaultArgon2Params().Validate())
}
