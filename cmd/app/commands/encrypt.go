package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

// RunEncrypt seals the input under the active version of a managed key and prints the
// ciphertext in its "name:version:base64" form.
func RunEncrypt(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	stdio IOTuple,
	name, requester string,
) error {
	plaintext, err := readInput(stdio.Reader)
	if err != nil {
		return err
	}

	ciphertext, err := kms.EncryptWithManagedKey(ctx, name, plaintext, requester)
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}

	logger.Debug("payload encrypted", slog.String("name", ciphertext.Name), slog.Uint64("version", uint64(ciphertext.Version)))
	_, _ = fmt.Fprintln(stdio.Writer, ciphertext.String())
	return nil
}

// RunDecrypt opens a ciphertext produced by RunEncrypt and writes the plaintext as is.
func RunDecrypt(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	stdio IOTuple,
	requester string,
) error {
	input, err := readInput(stdio.Reader)
	if err != nil {
		return err
	}

	ciphertext, err := kmsDomain.ParseManagedCiphertext(strings.TrimSpace(string(input)))
	if err != nil {
		return fmt.Errorf("failed to parse ciphertext: %w", err)
	}

	plaintext, err := kms.DecryptWithManagedKey(ctx, ciphertext, requester)
	if err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}

	logger.Debug("payload decrypted", slog.String("name", ciphertext.Name), slog.Uint64("version", uint64(ciphertext.Version)))
	_, err = stdio.Writer.Write(plaintext)
	return err
}
