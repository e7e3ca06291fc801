package domain

import "fmt"

// KDF identifies a password-based key derivation function.
type KDF string

const (
	// KDFArgon2id is the memory-hard Argon2id function (RFC 9106).
	KDFArgon2id KDF = "argon2id"

	// KDFPBKDF2SHA256 is PBKDF2 with HMAC-SHA256 (RFC 8018).
	KDFPBKDF2SHA256 KDF = "pbkdf2-sha256"
)

// Argon2Params holds Argon2id cost parameters.
type Argon2Params struct {
	MemoryKiB   uint32 `json:"memory_kib"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

// Validate rejects parameters that argon2.IDKey would accept but that produce a weak
// or degenerate key.
func (p Argon2Params) Validate() error {
	if p.Iterations < 1 {
		return fmt.Errorf("%w: argon2 iterations must be at least 1", ErrInvalidKDFParams)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("%w: argon2 parallelism must be at least 1", ErrInvalidKDFParams)
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf(
			"%w: argon2 memory must be at least %d KiB for parallelism %d",
			ErrInvalidKDFParams,
			8*uint32(p.Parallelism),
			p.Parallelism,
		)
	}
	return nil
}

// KDFParams describes a complete password-based derivation so that it can be
// reproduced later from stored public parameters.
type KDFParams struct {
	Algorithm  KDF           `json:"algorithm"`
	Argon2     *Argon2Params `json:"argon2,omitempty"`
	Iterations int           `json:"iterations,omitempty"` // PBKDF2 only
	KeyLength  int           `json:"key_length"`
}

// MinPBKDF2Iterations is the lowest PBKDF2 iteration count accepted.
const MinPBKDF2Iterations = 10000

// Validate checks the parameters for the selected algorithm.
func (p KDFParams) Validate() error {
	if p.KeyLength != KeySize {
		return fmt.Errorf("%w: key length must be %d", ErrInvalidKDFParams, KeySize)
	}
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Argon2 == nil {
			return fmt.Errorf("%w: argon2 parameters missing", ErrInvalidKDFParams)
		}
		return p.Argon2.Validate()
	case KDFPBKDF2SHA256:
		if p.Iterations < MinPBKDF2Iterations {
			return fmt.Errorf(
				"%w: pbkdf2 iterations must be at least %d",
				ErrInvalidKDFParams,
				MinPBKDF2Iterations,
			)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kdf %q", ErrInvalidKDFParams, p.Algorithm)
	}
}
