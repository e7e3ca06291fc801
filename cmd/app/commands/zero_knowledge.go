package commands

import (
	"errors"
	"fmt"
	"log/slog"

	zkDomain "github.com/allisson/kms/internal/zeroknowledge/domain"
	zkUsecase "github.com/allisson/kms/internal/zeroknowledge/usecase"
)

// ErrZeroKnowledgeDecrypt is returned when a result cannot be opened. The cause is not
// reported: a wrong password and a tampered result look the same.
var ErrZeroKnowledgeDecrypt = errors.New("decryption failed: wrong password or corrupted result")

// RunZKEncrypt encrypts the input under a key derived from password and prints the
// encoded result. The result holds no key material and can be stored anywhere.
func RunZKEncrypt(
	wrapper *zkUsecase.Wrapper,
	logger *slog.Logger,
	stdio IOTuple,
	password []byte,
) error {
	plaintext, err := readInput(stdio.Reader)
	if err != nil {
		return err
	}

	result, err := wrapper.EncryptZeroKnowledge(plaintext, password, nil)
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}

	encoded, err := result.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	logger.Debug("zero-knowledge payload encrypted", slog.String("kdf", string(result.KDF.Algorithm)))
	_, _ = fmt.Fprintln(stdio.Writer, string(encoded))
	return nil
}

// RunZKDecrypt opens an encoded result produced by RunZKEncrypt.
func RunZKDecrypt(
	wrapper *zkUsecase.Wrapper,
	logger *slog.Logger,
	stdio IOTuple,
	password []byte,
) error {
	input, err := readInput(stdio.Reader)
	if err != nil {
		return err
	}

	result, err := zkDomain.DecodeResult(input)
	if err != nil {
		return err
	}

	plaintext, ok := wrapper.DecryptZeroKnowledge(result, password)
	if !ok {
		logger.Debug("zero-knowledge decryption failed")
		return ErrZeroKnowledgeDecrypt
	}

	_, err = stdio.Writer.Write(plaintext)
	return err
}
