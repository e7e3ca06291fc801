// Package usecase implements zero-knowledge encryption: data is encrypted under a key
// derived from a client-held password, and only public parameters are returned.
package usecase

import (
	"encoding/json"
	"fmt"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
	zkDomain "github.com/allisson/kms/internal/zeroknowledge/domain"
)

// DefaultKDFParams selects Argon2id with the default cost parameters.
func DefaultKDFParams() cryptoDomain.KDFParams {
	argon2 := cryptoDomain.DefaultArgon2Params()
	return cryptoDomain.KDFParams{
		Algorithm: cryptoDomain.KDFArgon2id,
		Argon2:    &argon2,
		KeyLength: cryptoDomain.KeySize,
	}
}

// Wrapper performs password-based encryption with AES-256-GCM.
type Wrapper struct {
	deriver     cryptoService.KeyDeriver
	aeadManager cryptoService.AEADManager
	params      cryptoDomain.KDFParams
}

// NewWrapper creates a Wrapper that derives keys with params. Invalid parameters are
// rejected here rather than at first use.
func NewWrapper(
	deriver cryptoService.KeyDeriver,
	aeadManager cryptoService.AEADManager,
	params cryptoDomain.KDFParams,
) (*Wrapper, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Argon2 != nil {
		argon2 := *params.Argon2
		params.Argon2 = &argon2
	}
	return &Wrapper{deriver: deriver, aeadManager: aeadManager, params: params}, nil
}

// resultAAD binds the ciphertext to the KDF parameters stored next to it.
func resultAAD(params cryptoDomain.KDFParams) ([]byte, error) {
	return json.Marshal(params)
}

func (w *Wrapper) cipher(password, salt []byte, params cryptoDomain.KDFParams) (cryptoService.AEAD, error) {
	key, err := w.deriver.Derive(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(key)

	return w.aeadManager.CreateCipher(key, cryptoDomain.AESGCM)
}

// EncryptZeroKnowledge encrypts plaintext under a key derived from password. A random
// salt is generated when salt is nil.
func (w *Wrapper) EncryptZeroKnowledge(plaintext, password, salt []byte) (*zkDomain.Result, error) {
	if len(password) == 0 {
		return nil, zkDomain.ErrEmptyPassword
	}

	if salt == nil {
		var err error
		salt, err = cryptoService.RandomBytes(cryptoDomain.SaltSize)
		if err != nil {
			return nil, err
		}
	} else {
		if len(salt) < zkDomain.MinSaltSize || len(salt) > zkDomain.MaxSaltSize {
			return nil, fmt.Errorf(
				"%w: salt must be between %d and %d bytes",
				cryptoDomain.ErrInvalidKDFParams,
				zkDomain.MinSaltSize,
				zkDomain.MaxSaltSize,
			)
		}
		salt = append([]byte(nil), salt...)
	}

	params := w.params
	if params.Argon2 != nil {
		argon2 := *params.Argon2
		params.Argon2 = &argon2
	}

	aad, err := resultAAD(params)
	if err != nil {
		return nil, err
	}

	aead, err := w.cipher(password, salt, params)
	if err != nil {
		return nil, err
	}
	sealed, err := aead.Encrypt(plaintext, aad)
	if err != nil {
		return nil, err
	}

	return &zkDomain.Result{
		Ciphertext: sealed.Ciphertext,
		Salt:       salt,
		Nonce:      sealed.Nonce,
		Tag:        sealed.Tag,
		KDF:        params,
	}, nil
}

// DecryptZeroKnowledge returns the plaintext and true, or nil and false. A wrong
// password, a tampered result and malformed parameters are indistinguishable to the
// caller.
func (w *Wrapper) DecryptZeroKnowledge(result *zkDomain.Result, password []byte) ([]byte, bool) {
	if result == nil || len(password) == 0 || result.Validate() != nil {
		return nil, false
	}

	aad, err := resultAAD(result.KDF)
	if err != nil {
		return nil, false
	}

	aead, err := w.cipher(password, result.Salt, result.KDF)
	if err != nil {
		return nil, false
	}

	plaintext, err := aead.Decrypt(&cryptoDomain.Sealed{
		Ciphertext: result.Ciphertext,
		Nonce:      result.Nonce,
		Tag:        result.Tag,
	}, aad)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// VerifyIntegrity checks that result is well formed. It cannot detect tampering with the
// ciphertext; only DecryptZeroKnowledge with the password can.
func (w *Wrapper) VerifyIntegrity(result *zkDomain.Result) error {
	if result == nil {
		return zkDomain.ErrInvalidResult
	}
	return result.Validate()
}
