// Package main provides the entry point for the key management service CLI.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	apperrors "github.com/allisson/kms/internal/errors"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:     "kms",
		Usage:    "Key management service with envelope encryption and versioned key rotation",
		Version:  version,
		Commands: getCommands(version),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(apperrors.ExitCode(err))
	}
}
