// Package service provides the cryptographic primitives used by the key management system:
// AEAD ciphers (AES-256-GCM, ChaCha20-Poly1305), password and sub key derivation,
// secure randomness and key wrapping.
package service

import (
	"context"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt seals plaintext under a fresh random nonce, binding the optional AAD.
	Encrypt(plaintext, aad []byte) (*cryptoDomain.Sealed, error)

	// Decrypt opens a sealed value. Any authentication failure returns
	// cryptoDomain.ErrDecryptionFailed.
	Decrypt(sealed *cryptoDomain.Sealed, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the specified algorithm.
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}

// KeyDeriver derives symmetric keys from passwords.
type KeyDeriver interface {
	// DeriveKey runs PBKDF2-HMAC-SHA256.
	DeriveKey(password, salt []byte, iterations, length int) ([]byte, error)

	// DeriveKeyMemoryHard runs Argon2id with the deriver's configured cost parameters.
	DeriveKeyMemoryHard(password, salt []byte, length int) ([]byte, error)

	// Derive runs the derivation described by params.
	Derive(password, salt []byte, params cryptoDomain.KDFParams) ([]byte, error)
}

// KeyWrapper generates and wraps key material under a wrapping key.
type KeyWrapper interface {
	// Generate creates a random 32-byte key and returns it together with its wrapped form.
	// Callers must Zero the plaintext key when done.
	Generate(wrappingKey, aad []byte, alg cryptoDomain.Algorithm) ([]byte, *cryptoDomain.Sealed, error)

	// Wrap seals key material under wrappingKey, binding aad.
	Wrap(wrappingKey, key, aad []byte, alg cryptoDomain.Algorithm) (*cryptoDomain.Sealed, error)

	// Unwrap opens wrapped key material. The aad must match the one used to wrap.
	Unwrap(wrappingKey []byte, sealed *cryptoDomain.Sealed, aad []byte, alg cryptoDomain.Algorithm) ([]byte, error)
}

// KMSKeeper is the subset of *secrets.Keeper used to decrypt a KMS-protected passphrase.
type KMSKeeper interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}
