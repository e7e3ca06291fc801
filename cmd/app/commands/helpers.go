// Package commands contains CLI command implementations for the application.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/allisson/kms/internal/app"
	"github.com/allisson/kms/internal/config"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

// IOTuple holds reader and writer for commands, allowing for testing.
type IOTuple struct {
	Reader io.Reader
	Writer io.Writer
}

// DefaultIO returns an IOTuple with os.Stdin and os.Stdout.
func DefaultIO() IOTuple {
	return IOTuple{
		Reader: os.Stdin,
		Writer: os.Stdout,
	}
}

// Output formats accepted by the --format flag.
const (
	FormatText = "text"
	FormatJSON = "json"
)

func validateFormat(format string) error {
	if format != FormatText && format != FormatJSON {
		return fmt.Errorf("invalid format: %s (valid options: text, json)", format)
	}
	return nil
}

// closeContainer closes all resources in the container and logs any errors.
func closeContainer(container *app.Container, logger *slog.Logger) {
	if err := container.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}

// WithContainer loads and validates configuration, builds the DI container and runs fn.
// The container is shut down when fn returns.
func WithContainer(ctx context.Context, fn func(ctx context.Context, container *app.Container) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	gin.SetMode(cfg.GetGinMode())

	container := app.NewContainer(cfg)
	defer closeContainer(container, container.Logger())

	return fn(ctx, container)
}

// WithKeyManagementSystem is WithContainer plus an initialized key management system.
func WithKeyManagementSystem(
	ctx context.Context,
	fn func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error,
) error {
	return WithContainer(ctx, func(ctx context.Context, container *app.Container) error {
		kms, err := container.StartKeyManagementSystem(ctx)
		if err != nil {
			return fmt.Errorf("failed to start key management system: %w", err)
		}
		return fn(ctx, container, kms)
	})
}

func writeJSON(writer io.Writer, v any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// readInput reads all of reader, trimming one trailing newline so that piped and
// typed input behave the same.
func readInput(reader io.Reader) ([]byte, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return bytes.TrimSuffix(bytes.TrimSuffix(data, []byte("\n")), []byte("\r")), nil
}
