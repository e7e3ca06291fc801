package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// DefaultBufferSize is used when NewAsyncSink receives a non-positive buffer size.
const DefaultBufferSize = 1024

const writeTimeout = 5 * time.Second

// AsyncSink is a non-blocking AuditSink. Records are queued in a bounded buffer and
// handed to a Writer by a single background goroutine. When the buffer is full the
// record is dropped and counted; delivery failures are logged. Neither is visible to
// the caller of Record.
type AsyncSink struct {
	writer Writer
	signer *Signer
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	records chan kmsDomain.AuditRecord
	done    chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncSink starts the delivery goroutine. signer may be nil; records are signed
// only once the signer has a key. Close must be called to stop the goroutine.
func NewAsyncSink(writer Writer, signer *Signer, bufferSize int, logger *slog.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &AsyncSink{
		writer:  writer,
		signer:  signer,
		logger:  logger,
		records: make(chan kmsDomain.AuditRecord, bufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues record without blocking.
func (s *AsyncSink) Record(_ context.Context, record kmsDomain.AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(record, "sink closed")
		return
	}

	select {
	case s.records <- record:
	default:
		s.drop(record, "buffer full")
	}
}

func (s *AsyncSink) drop(record kmsDomain.AuditRecord, reason string) {
	s.dropped.Add(1)
	s.logger.Warn("audit record dropped",
		slog.String("reason", reason),
		slog.String("id", record.ID.String()),
		slog.String("action", string(record.Action)),
	)
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for record := range s.records {
		s.deliver(record)
	}
}

func (s *AsyncSink) deliver(record kmsDomain.AuditRecord) {
	if s.signer != nil && s.signer.HasKey() {
		signature, err := s.signer.Sign(&record)
		if err != nil {
			s.logger.Error("failed to sign audit record", slog.Any("error", err))
		} else {
			record.Signature = signature
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.writer.Write(ctx, &record); err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to write audit record",
			slog.String("id", record.ID.String()),
			slog.Any("error", err),
		)
	}
}

// Dropped returns how many records were discarded before delivery.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed returns how many records the writer rejected.
func (s *AsyncSink) Failed() uint64 {
	return s.failed.Load()
}

// Close stops accepting records, waits until queued records are delivered or ctx is
// done, and closes the writer.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), s.writer.Close())
	}
	return s.writer.Close()
}
