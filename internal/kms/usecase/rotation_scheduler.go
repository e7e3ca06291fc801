package usecase

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/allisson/kms/internal/errors"
)

// RotationScheduler periodically runs the rotation sweep of a KeyManagementSystem.
type RotationScheduler struct {
	kms      KeyManagementSystem
	interval time.Duration
	logger   *slog.Logger
}

// NewRotationScheduler creates a scheduler that sweeps every interval.
func NewRotationScheduler(kms KeyManagementSystem, interval time.Duration, logger *slog.Logger) *RotationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RotationScheduler{kms: kms, interval: interval, logger: logger}
}

// Start runs sweeps until ctx is cancelled and then returns ctx.Err(). Sweep failures
// are logged and do not stop the loop. A non-positive interval is ErrInvalidInput.
func (s *RotationScheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "rotation sweep interval must be positive, got %s", s.interval)
	}
	s.logger.Info("starting rotation scheduler", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping rotation scheduler")
			return ctx.Err()
		case <-ticker.C:
			rotated, err := s.kms.RotateExpired(ctx)
			if err != nil {
				s.logger.Error("rotation sweep failed", slog.Int("rotated", rotated), slog.Any("error", err))
				continue
			}
			if rotated > 0 {
				s.logger.Info("rotation sweep completed", slog.Int("rotated", rotated))
			}
		}
	}
}
