package audit

import (
	"context"
	"log/slog"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// Writer persists or forwards audit records. Writers are called from a single goroutine.
type Writer interface {
	Write(ctx context.Context, record *kmsDomain.AuditRecord) error
	Close() error
}

// LogWriter writes audit records as structured log lines.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Write logs record at info level, or warn level when the operation was denied.
func (w *LogWriter) Write(ctx context.Context, record *kmsDomain.AuditRecord) error {
	level := slog.LevelInfo
	if record.Outcome == kmsDomain.OutcomeDenied {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("id", record.ID.String()),
		slog.String("name", record.Name),
		slog.Uint64("version", uint64(record.Version)),
		slog.String("requester", record.Requester),
		slog.String("action", string(record.Action)),
		slog.String("outcome", string(record.Outcome)),
		slog.Time("timestamp", record.Timestamp),
	}
	if record.Error != "" {
		attrs = append(attrs, slog.String("error", record.Error))
	}
	if len(record.Signature) > 0 {
		attrs = append(attrs, slog.Any("signature", record.Signature))
	}

	w.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// Close is a no-op.
func (w *LogWriter) Close() error {
	return nil
}
