package usecase

import (
	"context"
	"fmt"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
)

// StaticPassphrase serves a passphrase held in process memory.
type StaticPassphrase struct {
	passphrase []byte
}

// NewStaticPassphrase copies passphrase.
func NewStaticPassphrase(passphrase []byte) *StaticPassphrase {
	return &StaticPassphrase{passphrase: append([]byte(nil), passphrase...)}
}

// Passphrase returns a fresh copy that the caller may zero.
func (s *StaticPassphrase) Passphrase(_ context.Context) ([]byte, error) {
	if len(s.passphrase) == 0 {
		return nil, fmt.Errorf("master passphrase is not configured")
	}
	return append([]byte(nil), s.passphrase...), nil
}

// KMSPassphrase decrypts a KMS-encrypted passphrase on every call so that the plaintext
// passphrase is never held between operations.
type KMSPassphrase struct {
	kmsService cryptoService.KMSService
	keyURI     string
	ciphertext []byte
}

// NewKMSPassphrase creates a source that decrypts ciphertext with the keeper at keyURI.
func NewKMSPassphrase(kmsService cryptoService.KMSService, keyURI string, ciphertext []byte) *KMSPassphrase {
	return &KMSPassphrase{
		kmsService: kmsService,
		keyURI:     keyURI,
		ciphertext: ciphertext,
	}
}

// Passphrase opens the keeper, decrypts the passphrase and closes the keeper.
func (k *KMSPassphrase) Passphrase(ctx context.Context) (passphrase []byte, err error) {
	keeper, err := k.kmsService.OpenKeeper(ctx, k.keyURI)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := keeper.Close(); closeErr != nil && err == nil {
			cryptoDomain.Zero(passphrase)
			passphrase, err = nil, fmt.Errorf("failed to close KMS keeper: %w", closeErr)
		}
	}()

	passphrase, err = keeper.Decrypt(ctx, k.ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt master passphrase: %w", err)
	}
	return passphrase, nil
}
