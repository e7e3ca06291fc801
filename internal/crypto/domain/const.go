package domain

import "fmt"

// Algorithm represents the AEAD construction used to seal key material and payloads.
//
// Both supported algorithms use 256-bit keys, 96-bit nonces and 128-bit authentication
// tags, so sealed values have the same shape regardless of the algorithm chosen.
//
// Algorithm selection guidelines:
//   - Use AESGCM on CPUs with AES-NI hardware acceleration
//   - Use ChaCha20 on systems without AES-NI
type Algorithm string

const (
	// AESGCM represents AES-256 in Galois/Counter Mode.
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 represents ChaCha20-Poly1305 (RFC 8439).
	ChaCha20 Algorithm = "chacha20-poly1305"
)

const (
	// KeySize is the size in bytes of every symmetric key handled by the system.
	KeySize = 32

	// NonceSize is the AEAD nonce size in bytes (96 bits).
	NonceSize = 12

	// TagSize is the AEAD authentication tag size in bytes (128 bits).
	TagSize = 16

	// SaltSize is the default salt size for password-based key derivation.
	SaltSize = 16
)

// ParseAlgorithm converts a configuration or CLI string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AESGCM:
		return AESGCM, nil
	case ChaCha20:
		return ChaCha20, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}
