package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// messageWriter is the subset of *kafka.Writer used by KafkaWriter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes audit records as JSON messages keyed by key name, so that
// records of one key keep their order within a partition.
type KafkaWriter struct {
	writer messageWriter
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// NewKafkaWriter creates a KafkaWriter producing to cfg.Topic.
func NewKafkaWriter(cfg KafkaConfig) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Write publishes record.
func (w *KafkaWriter) Write(ctx context.Context, record *kmsDomain.AuditRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	err = w.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.Name),
		Value: value,
		Time:  record.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write audit record to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}
