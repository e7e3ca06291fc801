package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

// RunInit reports the state of an initialized key management system. Initialization
// itself (master key bootstrap or verification, cache preload and the first rotation
// sweep) happens when the container starts the system.
func RunInit(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	writer io.Writer,
	requester string,
) error {
	keys, err := kms.ListKeys(ctx, requester)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	logger.Info("key management system initialized", slog.Int("key_versions", len(keys)))
	_, _ = fmt.Fprintf(writer, "Key management system initialized (%d live key versions)\n", len(keys))
	return nil
}

// RunCreateKey creates version 1 of a new managed key.
func RunCreateKey(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	writer io.Writer,
	name, requester, format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	metadata, err := kms.CreateKey(ctx, name, requester)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	logger.Info("key created", slog.String("name", metadata.Name), slog.Uint64("version", uint64(metadata.Version)))
	return outputMetadata(writer, format, metadata)
}

// RunRotateKey creates a new active version of a managed key.
func RunRotateKey(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	writer io.Writer,
	name, requester, format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	metadata, err := kms.RotateKey(ctx, name, requester)
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	logger.Info("key rotated", slog.String("name", metadata.Name), slog.Uint64("version", uint64(metadata.Version)))
	return outputMetadata(writer, format, metadata)
}

// RunDeleteKey soft deletes one version of a managed key, or every version when
// version is zero.
func RunDeleteKey(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	writer io.Writer,
	name string,
	version uint,
	requester string,
) error {
	if err := kms.DeleteKey(ctx, name, version, requester); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	logger.Info("key deleted", slog.String("name", name), slog.Uint64("version", uint64(version)))
	if version == 0 {
		_, _ = fmt.Fprintf(writer, "Deleted every version of %s\n", name)
	} else {
		_, _ = fmt.Fprintf(writer, "Deleted %s version %d\n", name, version)
	}
	return nil
}

// RunListKeys prints the metadata of every live key version.
func RunListKeys(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	writer io.Writer,
	requester, format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	keys, err := kms.ListKeys(ctx, requester)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if format == FormatJSON {
		if keys == nil {
			keys = []*kmsDomain.KeyMetadata{}
		}
		return writeJSON(writer, keys)
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tALGORITHM\tCREATED BY\tEXPIRES AT")
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			k.Name, k.Version, k.Status, k.Algorithm, k.CreatedBy, formatTime(k.ExpiresAt))
	}
	return tw.Flush()
}

// RunSweep rotates every active key past its expiry.
func RunSweep(
	ctx context.Context,
	kms kmsUsecase.KeyManagementSystem,
	logger *slog.Logger,
	writer io.Writer,
) error {
	rotated, err := kms.RotateExpired(ctx)
	_, _ = fmt.Fprintf(writer, "Rotated %d expired key(s)\n", rotated)
	if err != nil {
		return fmt.Errorf("rotation sweep finished with errors: %w", err)
	}

	logger.Info("rotation sweep completed", slog.Int("rotated", rotated))
	return nil
}

func outputMetadata(writer io.Writer, format string, metadata *kmsDomain.KeyMetadata) error {
	if format == FormatJSON {
		return writeJSON(writer, metadata)
	}

	_, _ = fmt.Fprintf(writer, "Name:       %s\n", metadata.Name)
	_, _ = fmt.Fprintf(writer, "Version:    %d\n", metadata.Version)
	_, _ = fmt.Fprintf(writer, "Status:     %s\n", metadata.Status)
	_, _ = fmt.Fprintf(writer, "Algorithm:  %s\n", metadata.Algorithm)
	_, _ = fmt.Fprintf(writer, "Created At: %s\n", formatTime(metadata.CreatedAt))
	_, _ = fmt.Fprintf(writer, "Expires At: %s\n", formatTime(metadata.ExpiresAt))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
