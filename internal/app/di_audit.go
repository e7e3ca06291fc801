package app

import (
	"context"
	"fmt"

	"github.com/allisson/kms/internal/audit"
	"github.com/allisson/kms/internal/config"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	"github.com/allisson/kms/internal/metrics"
)

// AuditRecordLister reads persisted audit records, newest first.
type AuditRecordLister interface {
	List(ctx context.Context, limit int) ([]*kmsDomain.AuditRecord, error)
}

// AuditWriter returns the audit destination selected by AUDIT_SINK.
func (c *Container) AuditWriter() (audit.Writer, error) {
	c.auditWriterInit.Do(func() {
		writer, err := c.initAuditWriter()
		if err != nil {
			c.setInitError("auditWriter", err)
			return
		}
		c.auditWriter = writer
	})
	if err := c.initError("auditWriter"); err != nil {
		return nil, err
	}
	return c.auditWriter, nil
}

// AuditSigner returns the audit record signer. Its key is installed by
// StartKeyManagementSystem.
func (c *Container) AuditSigner() *audit.Signer {
	c.auditSignerInit.Do(func() {
		c.auditSigner = audit.NewSigner()
	})
	return c.auditSigner
}

// AuditSink returns the asynchronous sink the key management system records to.
func (c *Container) AuditSink() (*audit.AsyncSink, error) {
	c.auditSinkInit.Do(func() {
		sink, err := c.initAuditSink()
		if err != nil {
			c.setInitError("auditSink", err)
			return
		}
		c.auditSink = sink
	})
	if err := c.initError("auditSink"); err != nil {
		return nil, err
	}
	return c.auditSink, nil
}

type auditStore interface {
	audit.Writer
	AuditRecordLister
}

// AuditRecordLister returns a reader over the audit_records table of DB_DRIVER.
func (c *Container) AuditRecordLister() (AuditRecordLister, error) {
	return c.sqlAuditStore()
}

func (c *Container) sqlAuditStore() (auditStore, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for audit records: %w", err)
	}

	switch c.config.DBDriver {
	case config.DriverMySQL:
		return audit.NewMySQLWriter(db), nil
	case config.DriverPostgres:
		return audit.NewPostgreSQLWriter(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initAuditWriter() (audit.Writer, error) {
	switch c.config.AuditSink {
	case config.AuditSinkLog:
		return audit.NewLogWriter(c.Logger()), nil
	case config.AuditSinkKafka:
		return audit.NewKafkaWriter(audit.KafkaConfig{
			Brokers: c.config.KafkaBrokerList(),
			Topic:   c.config.KafkaAuditTopic,
		}), nil
	case config.AuditSinkDatabase:
		return c.sqlAuditStore()
	default:
		return nil, fmt.Errorf("unsupported audit sink: %s", c.config.AuditSink)
	}
}

func (c *Container) initAuditSink() (*audit.AsyncSink, error) {
	writer, err := c.AuditWriter()
	if err != nil {
		return nil, err
	}

	var signer *audit.Signer
	if c.config.AuditSigningEnabled {
		signer = c.AuditSigner()
	}
	sink := audit.NewAsyncSink(writer, signer, c.config.AuditBufferSize, c.Logger())

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider != nil {
		if err := metrics.RegisterAuditCounters(provider.MeterProvider(), c.config.MetricsNamespace, sink); err != nil {
			return nil, err
		}
	}
	return sink, nil
}
