package domain

import (
	"github.com/allisson/kms/internal/errors"
)

// Cryptographic operation error definitions.
//
// These domain-specific errors wrap standard errors from internal/errors so that
// callers can tell a wrong key or tampered payload (ErrDecryptionFailed) apart from
// misuse of the primitives (ErrInvalidKeySize, ErrInvalidKDFParams) and from
// environmental failures (ErrRandomSource).
var (
	// ErrUnsupportedAlgorithm indicates the requested encryption algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrInvalidInput, "unsupported algorithm")

	// ErrInvalidKeySize indicates the cryptographic key is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrInvalidKDFParams indicates key derivation parameters are missing or out of range.
	ErrInvalidKDFParams = errors.Wrap(errors.ErrInvalidInput, "invalid key derivation parameters")

	// ErrDecryptionFailed indicates authentication of a sealed value failed.
	//
	// The cause (wrong key, tampered ciphertext, tag or nonce) is deliberately not
	// disclosed.
	ErrDecryptionFailed = errors.Wrap(errors.ErrInvalidInput, "decryption failed")

	// ErrRandomSource indicates the system CSPRNG could not produce bytes.
	ErrRandomSource = errors.Wrap(errors.ErrInternal, "random source failure")
)
