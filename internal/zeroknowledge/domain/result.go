// Package domain defines the public parameters of password-based, server-blind
// encryption.
package domain

import (
	"encoding/json"
	"fmt"

	validation "github.com/jellydator/validation"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	apperrors "github.com/allisson/kms/internal/errors"
	customValidation "github.com/allisson/kms/internal/validation"
)

// Upper bounds on stored cost parameters; a stored result must not be able to make
// decryption arbitrarily expensive.
const (
	MaxArgon2MemoryKiB  = 1024 * 1024
	MaxArgon2Iterations = 64
	MaxPBKDF2Iterations = 10_000_000
	MinSaltSize         = 16
	MaxSaltSize         = 64
)

var (
	// ErrInvalidResult indicates a result that is not structurally well formed.
	ErrInvalidResult = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid zero-knowledge result")

	// ErrEmptyPassword indicates an empty password.
	ErrEmptyPassword = apperrors.Wrap(apperrors.ErrInvalidInput, "password must not be empty")
)

// Result holds everything needed to decrypt except the password. It never contains the
// password or the derived key, so it can be stored by an untrusted party.
type Result struct {
	Ciphertext []byte                 `json:"ciphertext"`
	Salt       []byte                 `json:"salt"`
	Nonce      []byte                 `json:"nonce"`
	Tag        []byte                 `json:"tag"`
	KDF        cryptoDomain.KDFParams `json:"kdf"`
}

// Validate checks field lengths and KDF parameters. It is a format check only: without
// the password nothing can be said about whether the ciphertext is authentic.
func (r *Result) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Salt, validation.Required, validation.Length(MinSaltSize, MaxSaltSize)),
		validation.Field(&r.Nonce, validation.Required, validation.Length(cryptoDomain.NonceSize, cryptoDomain.NonceSize)),
		validation.Field(&r.Tag, validation.Required, validation.Length(cryptoDomain.TagSize, cryptoDomain.TagSize)),
		validation.Field(&r.KDF, validation.By(validateKDF)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, customValidation.WrapValidationError(err))
	}
	return nil
}

func validateKDF(value interface{}) error {
	params, ok := value.(cryptoDomain.KDFParams)
	if !ok {
		return fmt.Errorf("unexpected kdf parameters type %T", value)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	switch params.Algorithm {
	case cryptoDomain.KDFArgon2id:
		if params.Argon2.MemoryKiB > MaxArgon2MemoryKiB || params.Argon2.Iterations > MaxArgon2Iterations {
			return fmt.Errorf("argon2 cost exceeds limits")
		}
	case cryptoDomain.KDFPBKDF2SHA256:
		if params.Iterations > MaxPBKDF2Iterations {
			return fmt.Errorf("pbkdf2 iterations exceed %d", MaxPBKDF2Iterations)
		}
	}
	return nil
}

// Encode serializes the result as JSON with base64 byte fields.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult parses and validates an encoded result.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
