package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// BackgroundRunner runs until its context is cancelled.
type BackgroundRunner interface {
	Start(ctx context.Context) error
}

// Server is a long running listener with graceful shutdown.
type Server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// RunServe runs the HTTP server and the rotation scheduler until SIGINT, SIGTERM or a
// server failure, then shuts the server down within shutdownTimeout.
func RunServe(
	ctx context.Context,
	scheduler BackgroundRunner,
	server Server,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("http server error: %w", err)
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("rotation scheduler stopped", slog.Any("error", err))
		}
	}()

	var errs []error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		errs = append(errs, err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("rotation scheduler shutdown: %w", shutdownCtx.Err()))
	}

	return errors.Join(errs...)
}
