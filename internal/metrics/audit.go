package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// AuditCounters exposes the loss counters of an asynchronous audit sink.
type AuditCounters interface {
	Dropped() uint64
	Failed() uint64
}

// RegisterAuditCounters exports the dropped and failed audit record counts as
// observable counters read at collection time.
func RegisterAuditCounters(meterProvider metric.MeterProvider, namespace string, counters AuditCounters) error {
	meter := meterProvider.Meter(namespace)

	dropped, err := meter.Int64ObservableCounter(
		fmt.Sprintf("%s_audit_records_dropped_total", namespace),
		metric.WithDescription("Audit records dropped because the queue was full or closed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return wrapInstrumentError("audit dropped counter", err)
	}

	failed, err := meter.Int64ObservableCounter(
		fmt.Sprintf("%s_audit_records_failed_total", namespace),
		metric.WithDescription("Audit records the writer failed to persist"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return wrapInstrumentError("audit failed counter", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(dropped, int64(counters.Dropped()))
		o.ObserveInt64(failed, int64(counters.Failed()))
		return nil
	}, dropped, failed)
	if err != nil {
		return fmt.Errorf("failed to register audit counters: %w", err)
	}
	return nil
}

func wrapInstrumentError(instrument string, err error) error {
	return fmt.Errorf("failed to create %s: %w", instrument, err)
}
