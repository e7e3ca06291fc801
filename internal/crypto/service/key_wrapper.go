package service

import (
	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// KeyWrapperService implements KeyWrapper on top of an AEADManager.
//
// It is used for both tiers of the key hierarchy: the master key is wrapped by a
// passphrase-derived KEK and managed keys are wrapped by the master key. The aad
// binds wrapped material to its owner (for example "name@version") so that entries
// cannot be swapped in storage.
type KeyWrapperService struct {
	aeadManager AEADManager
}

// NewKeyWrapper creates a new KeyWrapperService with the provided AEADManager.
func NewKeyWrapper(aeadManager AEADManager) *KeyWrapperService {
	return &KeyWrapperService{aeadManager: aeadManager}
}

// Generate creates a random 32-byte key and wraps it under wrappingKey.
func (w *KeyWrapperService) Generate(
	wrappingKey, aad []byte,
	alg cryptoDomain.Algorithm,
) ([]byte, *cryptoDomain.Sealed, error) {
	key, err := RandomBytes(cryptoDomain.KeySize)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := w.Wrap(wrappingKey, key, aad, alg)
	if err != nil {
		cryptoDomain.Zero(key)
		return nil, nil, err
	}
	return key, sealed, nil
}

// Wrap seals key under wrappingKey.
func (w *KeyWrapperService) Wrap(
	wrappingKey, key, aad []byte,
	alg cryptoDomain.Algorithm,
) (*cryptoDomain.Sealed, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	aead, err := w.aeadManager.CreateCipher(wrappingKey, alg)
	if err != nil {
		return nil, err
	}
	return aead.Encrypt(key, aad)
}

// Unwrap opens wrapped key material. A wrong wrapping key, a different aad or tampered
// input yields ErrDecryptionFailed.
func (w *KeyWrapperService) Unwrap(
	wrappingKey []byte,
	sealed *cryptoDomain.Sealed,
	aad []byte,
	alg cryptoDomain.Algorithm,
) ([]byte, error) {
	aead, err := w.aeadManager.CreateCipher(wrappingKey, alg)
	if err != nil {
		return nil, err
	}

	key, err := aead.Decrypt(sealed, aad)
	if err != nil {
		return nil, err
	}
	if len(key) != cryptoDomain.KeySize {
		cryptoDomain.Zero(key)
		return nil, cryptoDomain.ErrInvalidKeySize
	}
	return key, nil
}
