package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("aes-gcm")
	require.NoError(t, err)
	assert.Equal(t, AESGCM, alg)

	alg, err = ParseAlgorithm("chacha20-poly1305")
	require.NoError(t, err)
	assert.Equal(t, ChaCha20, alg)

	_, err = ParseAlgorithm("des")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestSplitSealed(t *testing.T) {
	b := make([]byte, NonceSize+3+TagSize)
	for i := range b {
		b[i] = byte(i)
	}

	s, err := SplitSealed(b)
	require.NoError(t, err)
	assert.Equal(t, b[:NonceSize], s.Nonce)
	assert.Equal(t, b[NonceSize:NonceSize+3], s.Ciphertext)
	assert.Equal(t, b[NonceSize+3:], s.Tag)
	assert.Equal(t, b, s.Combined())

	_, err = SplitSealed(b[:NonceSize+TagSize-1])
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKDFParams_Validate(t *testing.T) {
	argon := Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}

	assert.NoError(t, KDFParams{Algorithm: KDFArgon2id, Argon2: &argon, KeyLength: KeySize}.Validate())
	assert.NoError(t, KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 600000, KeyLength: KeySize}.Validate())

	assert.ErrorIs(t, KDFParams{Algorithm: KDFArgon2id, KeyLength: KeySize}.Validate(), ErrInvalidKDFParams)
	assert.ErrorIs(t, KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 1, KeyLength: KeySize}.Validate(), ErrInvalidKDFParams)
	assert.ErrorIs(t, KDFParams{Algorithm: KDFArgon2id, Argon2: &argon, KeyLength: 64}.Validate(), ErrInvalidKDFParams)
	assert.ErrorIs(t, KDFParams{Algorithm: "md5", KeyLength: KeySize}.Validate(), ErrInvalidKDFParams)
}
