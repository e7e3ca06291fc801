package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
)

// AlphanumericCharset is the default charset for RandomString.
const AlphanumericCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length", cryptoDomain.ErrRandomSource)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %w", cryptoDomain.ErrRandomSource, err)
	}
	return b, nil
}

// RandomString returns n characters drawn uniformly from charset.
// An empty charset falls back to AlphanumericCharset.
func RandomString(n int, charset string) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("%w: negative length", cryptoDomain.ErrRandomSource)
	}
	if charset == "" {
		charset = AlphanumericCharset
	}

	out := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%w: %w", cryptoDomain.ErrRandomSource, err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

// RandomUUID returns a random (version 4) UUID string.
func RandomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: %w", cryptoDomain.ErrRandomSource, err)
	}
	return id.String(), nil
}
