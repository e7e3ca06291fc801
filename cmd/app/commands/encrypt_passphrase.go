package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	cryptoDomain "github.com/allisson/kms/internal/crypto/domain"
	cryptoService "github.com/allisson/kms/internal/crypto/service"
	"github.com/allisson/kms/internal/validation"
)

// masterPassphraseStrength is the minimum accepted for passphrases sealed by an
// external KMS.
var masterPassphraseStrength = validation.PassphraseStrength{
	MinLength:     16,
	RequireUpper:  true,
	RequireLower:  true,
	RequireNumber: true,
}

// RunEncryptPassphrase seals the master passphrase read from the input with the external
// KMS key at keyURI and prints the environment variables that let the server unseal it
// at startup.
//
// For local development use a base64key:// URI; production deployments should use a
// cloud provider (gcpkms, awskms, azurekeyvault) or hashivault.
func RunEncryptPassphrase(
	ctx context.Context,
	kmsService cryptoService.KMSService,
	stdio IOTuple,
	keyURI string,
	logger *slog.Logger,
) error {
	if keyURI == "" {
		return fmt.Errorf(
			"--kms-key-uri is required\n\nFor local development, use:\n  --kms-key-uri=\"base64key://<32-byte-base64-key>\"",
		)
	}

	passphrase, err := readInput(stdio.Reader)
	if err != nil {
		return err
	}
	defer cryptoDomain.Zero(passphrase)

	if err := masterPassphraseStrength.Validate(string(passphrase)); err != nil {
		return validation.WrapValidationError(err)
	}

	keeper, err := kmsService.OpenKeeper(ctx, keyURI)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := keeper.Close(); closeErr != nil {
			logger.Warn("failed to close KMS keeper", slog.Any("error", closeErr))
		}
	}()

	ciphertext, err := keeper.Encrypt(ctx, passphrase)
	if err != nil {
		return fmt.Errorf("failed to encrypt passphrase with KMS: %w", err)
	}

	logger.Info("master passphrase encrypted")

	_, _ = fmt.Fprintln(stdio.Writer, "# Copy these environment variables to your .env file or secrets manager")
	_, _ = fmt.Fprintf(stdio.Writer, "KMS_KEY_URI=\"%s\"\n", keyURI)
	_, _ = fmt.Fprintf(
		stdio.Writer,
		"MASTER_PASSPHRASE_CIPHERTEXT=\"%s\"\n",
		base64.StdEncoding.EncodeToString(ciphertext),
	)
	return nil
}
