package service

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// KeyDeriverService implements KeyDeriver with PBKDF2-SHA256 and Argon2id.
type KeyDeriverService struct {
	argon2 cryptoDomain.Argon2Params
}

// NewKeyDeriver validates the Argon2id cost parameters and returns a deriver.
// Invalid parameters fail here rather than at derivation time.
func NewKeyDeriver(params cryptoDomain.Argon2Params) (*KeyDeriverService, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &KeyDeriverService{argon2: params}, nil
}

// Argon2Params returns the cost parameters used by DeriveKeyMemoryHard.
func (k *KeyDeriverService) Argon2Params() cryptoDomain.Argon2Params {
	return k.argon2
}

// DeriveKey derives a key with PBKDF2-HMAC-SHA256.
func (k *KeyDeriverService) DeriveKey(password, salt []byte, iterations, length int) ([]byte, error) {
	if iterations < 1 || length < 1 {
		return nil, fmt.Errorf("%w: iterations and length must be positive", cryptoDomain.ErrInvalidKDFParams)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required", cryptoDomain.ErrInvalidKDFParams)
	}
	return pbkdf2.Key(password, salt, iterations, length, sha256.New), nil
}

// DeriveKeyMemoryHard derives a key with Argon2id using the deriver's cost parameters.
func (k *KeyDeriverService) DeriveKeyMemoryHard(password, salt []byte, length int) ([]byte, error) {
	return deriveArgon2id(password, salt, k.argon2, length)
}

// Derive dispatches on params.Algorithm. Argon2 parameters embedded in params take
// precedence over the deriver defaults so that stored derivations can be replayed.
func (k *KeyDeriverService) Derive(password, salt []byte, params cryptoDomain.KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch params.Algorithm {
	case cryptoDomain.KDFPBKDF2SHA256:
		return k.DeriveKey(password, salt, params.Iterations, params.KeyLength)
	default:
		return deriveArgon2id(password, salt, *params.Argon2, params.KeyLength)
	}
}

func deriveArgon2id(password, salt []byte, p cryptoDomain.Argon2Params, length int) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if length < 1 {
		return nil, fmt.Errorf("%w: length must be positive", cryptoDomain.ErrInvalidKDFParams)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required", cryptoDomain.ErrInvalidKDFParams)
	}
	return argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(length)), nil
}

// DeriveSubKeys expands masterKey into count independent keys of length bytes with
// HKDF-SHA256. Each key uses info = context || big-endian uint32 index.
func DeriveSubKeys(masterKey []byte, context string, count, length int) ([][]byte, error) {
	if len(masterKey) == 0 || count < 1 || length < 1 {
		return nil, fmt.Errorf("%w: invalid sub key request", cryptoDomain.ErrInvalidKDFParams)
	}

	keys := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		info := make([]byte, len(context)+4)
		copy(info, context)
		binary.BigEndian.PutUint32(info[len(context):], uint32(i))

		key := make([]byte, length)
		if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, info), key); err != nil {
			cryptoDomain.Zero(keys...)
			return nil, fmt.Errorf("%w: hkdf expand: %w", cryptoDomain.ErrInvalidKDFParams, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
