package service

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// AESGCMCipher implements the AEAD interface using AES-256-GCM.
//
// Security properties:
//   - 256-bit key
//   - 12-byte nonce, randomly generated per encryption
//   - 16-byte authentication tag, returned separately in Sealed.Tag
//
// The cipher instance is stateless and safe for concurrent use.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCM creates a new AES-256-GCM cipher instance. The key must be exactly 32 bytes.
func NewAESGCM(key []byte) (*AESGCMCipher, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMCipher{aead: aead}, nil
}

// Encrypt encrypts plaintext with optional additional authenticated data.
func (a *AESGCMCipher) Encrypt(plaintext, aad []byte) (*cryptoDomain.Sealed, error) {
	return seal(a.aead, plaintext, aad)
}

// Decrypt decrypts a sealed value. The same AAD used during encryption must be provided.
func (a *AESGCMCipher) Decrypt(sealed *cryptoDomain.Sealed, aad []byte) ([]byte, error) {
	return open(a.aead, sealed, aad)
}

// seal and open are shared by both AEAD implementations since they only differ in
// how the underlying cipher.AEAD is constructed.
func seal(aead cipher.AEAD, plaintext, aad []byte) (*cryptoDomain.Sealed, error) {
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aead.Seal(nil, nonce, plaintext, aad)
	split := len(out) - aead.Overhead()

	return &cryptoDomain.Sealed{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		Tag:        out[split:],
	}, nil
}

func open(aead cipher.AEAD, sealed *cryptoDomain.Sealed, aad []byte) ([]byte, error) {
	if sealed == nil || len(sealed.Nonce) != aead.NonceSize() || len(sealed.Tag) != aead.Overhead() {
		return nil, cryptoDomain.ErrDecryptionFailed
	}

	buf := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.Tag))
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag...)

	plaintext, err := aead.Open(nil, sealed.Nonce, buf, aad)
	if err != nil {
		return nil, cryptoDomain.ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
