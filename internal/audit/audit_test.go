package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

func newRecord(action kmsDomain.Action, outcome kmsDomain.Outcome) kmsDomain.AuditRecord {
	return kmsDomain.AuditRecord{
		ID:        uuid.Must(uuid.NewV7()),
		Name:      "payments/db-password",
		Version:   2,
		Requester: "alice",
		Action:    action,
		Outcome:   outcome,
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 123456000, time.UTC),
	}
}

type memoryWriter struct {
	mu       sync.Mutex
	records  []kmsDomain.AuditRecord
	started  chan struct{}
	release  chan struct{}
	writeErr error
	closed   bool
}

func (w *memoryWriter) Write(_ context.Context, record *kmsDomain.AuditRecord) error {
	if w.started != nil {
		w.started <- struct{}{}
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.records = append(w.records, *record)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memoryWriter) written() []kmsDomain.AuditRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kmsDomain.AuditRecord(nil), w.records...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestSigner(t *testing.T) {
	signer := NewSigner()
	record := newRecord(kmsDomain.ActionRotate, kmsDomain.OutcomeSuccess)

	_, err := signer.Sign(&record)
	assert.ErrorIs(t, err, ErrSigningKeyNotSet)
	assert.False(t, signer.HasKey())

	key := bytes.Repeat([]byte{7}, 32)
	signer.SetKey(key)
	key[0] = 0
	assert.True(t, signer.HasKey())

	signature, err := signer.Sign(&record)
	require.NoError(t, err)
	assert.Len(t, signature, 32)

	record.Signature = signature
	require.NoError(t, signer.Verify(&record))

	tampered := []func(r *kmsDomain.AuditRecord){
		func(r *kmsDomain.AuditRecord) { r.Name = "other" },
		func(r *kmsDomain.AuditRecord) { r.Version = 3 },
		func(r *kmsDomain.AuditRecord) { r.Requester = "mallory" },
		func(r *kmsDomain.AuditRecord) { r.Outcome = kmsDomain.OutcomeFailure },
		func(r *kmsDomain.AuditRecord) { r.Error = "oops" },
		func(r *kmsDomain.AuditRecord) { r.Timestamp = r.Timestamp.Add(time.Microsecond) },
	}
	for _, mutate := range tampered {
		r := record
		mutate(&r)
		assert.ErrorIs(t, signer.Verify(&r), ErrSignatureInvalid)
	}

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		a := newRecord(kmsDomain.ActionRead, kmsDomain.OutcomeSuccess)
		b := a
		a.Name, a.Requester = "ab", "c"
		b.Name, b.Requester = "a", "bc"

		sa, err := signer.Sign(&a)
		require.NoError(t, err)
		sb, err := signer.Sign(&b)
		require.NoError(t, err)
		assert.NotEqual(t, sa, sb)
	})

	t.Run("other key rejects", func(t *testing.T) {
		other := NewSigner()
		other.SetKey(bytes.Repeat([]byte{8}, 32))
		assert.ErrorIs(t, other.Verify(&record), ErrSignatureInvalid)
	})
}

func TestAsyncSink_DeliversAndSigns(t *testing.T) {
	defer goleak.VerifyNone(t)

	writer := &memoryWriter{}
	signer := NewSigner()
	sink := NewAsyncSink(writer, signer, 16, discardLogger())

	sink.Record(context.Background(), newRecord(kmsDomain.ActionCreate, kmsDomain.OutcomeSuccess))
	signer.SetKey(bytes.Repeat([]byte{1}, 32))
	require.Eventually(t, func() bool { return len(writer.written()) == 1 }, time.Second, time.Millisecond)

	sink.Record(context.Background(), newRecord(kmsDomain.ActionRead, kmsDomain.OutcomeDenied))

	require.NoError(t, sink.Close(context.Background()))
	records := writer.written()
	require.Len(t, records, 2)
	assert.Equal(t, kmsDomain.ActionCreate, records[0].Action)
	assert.Equal(t, kmsDomain.ActionRead, records[1].Action)
	assert.NoError(t, signer.Verify(&records[1]))
	assert.True(t, writer.closed)

	sink.Record(context.Background(), newRecord(kmsDomain.ActionRead, kmsDomain.OutcomeSuccess))
	assert.Equal(t, uint64(1), sink.Dropped(), "records after close are dropped")
	assert.NoError(t, sink.Close(context.Background()))
}

func TestAsyncSink_NeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	writer := &memoryWriter{started: make(chan struct{}), release: make(chan struct{})}
	sink := NewAsyncSink(writer, nil, 1, discardLogger())
	ctx := context.Background()

	sink.Record(ctx, newRecord(kmsDomain.ActionCreate, kmsDomain.OutcomeSuccess))
	<-writer.started

	sink.Record(ctx, newRecord(kmsDomain.ActionRead, kmsDomain.OutcomeSuccess))
	sink.Record(ctx, newRecord(kmsDomain.ActionRotate, kmsDomain.OutcomeSuccess))
	assert.Equal(t, uint64(1), sink.Dropped())

	go func() {
		<-writer.started
		close(writer.release)
	}()
	writer.release <- struct{}{}

	require.NoError(t, sink.Close(ctx))
	assert.Len(t, writer.written(), 2)
}

func TestAsyncSink_WriterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logs bytes.Buffer
	writer := &memoryWriter{writeErr: errors.New("disk full")}
	sink := NewAsyncSink(writer, nil, 0, slog.New(slog.NewJSONHandler(&logs, nil)))

	sink.Record(context.Background(), newRecord(kmsDomain.ActionCreate, kmsDomain.OutcomeSuccess))
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, uint64(1), sink.Failed())
	assert.Contains(t, logs.String(), "disk full")
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	writer := NewLogWriter(slog.New(slog.NewJSONHandler(&buf, nil)))

	record := newRecord(kmsDomain.ActionRead, kmsDomain.OutcomeDenied)
	record.Error = "access denied"
	require.NoError(t, writer.Write(context.Background(), &record))
	require.NoError(t, writer.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, "payments/db-password", line["name"])
	assert.Equal(t, "denied", line["outcome"])
	assert.Equal(t, "access denied", line["error"])
}

type fakeMessageWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes json keyed by name", func(t *testing.T) {
		fake := &fakeMessageWriter{}
		writer := &KafkaWriter{writer: fake}

		record := newRecord(kmsDomain.ActionRotate, kmsDomain.OutcomeSuccess)
		require.NoError(t, writer.Write(ctx, &record))
		require.NoError(t, writer.Close())

		require.Len(t, fake.messages, 1)
		assert.Equal(t, []byte("payments/db-password"), fake.messages[0].Key)
		assert.Equal(t, record.Timestamp, fake.messages[0].Time)

		var decoded kmsDomain.AuditRecord
		require.NoError(t, json.Unmarshal(fake.messages[0].Value, &decoded))
		assert.Equal(t, record.ID, decoded.ID)
		assert.Equal(t, record.Action, decoded.Action)
		assert.True(t, fake.closed)
	})

	t.Run("broker failure", func(t *testing.T) {
		writer := &KafkaWriter{writer: &fakeMessageWriter{err: kafka.LeaderNotAvailable}}
		record := newRecord(kmsDomain.ActionRotate, kmsDomain.OutcomeSuccess)

		err := writer.Write(ctx, &record)
		assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	})

	t.Run("constructor", func(t *testing.T) {
		writer := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "kms-audit"})
		producer, ok := writer.writer.(*kafka.Writer)
		require.True(t, ok)
		assert.Equal(t, "kms-audit", producer.Topic)
		assert.NoError(t, writer.Close())
	})
}
