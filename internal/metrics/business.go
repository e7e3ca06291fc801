package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics counts and times key management operations. Domain is "kms",
// operation names the call ("key_rotate", "rotation_sweep", ...) and status is
// "success" or "error".
type BusinessMetrics interface {
	RecordOperation(ctx context.Context, domain, operation, status string)
	RecordDuration(ctx context.Context, domain, operation string, duration time.Duration, status string)
}

type otelBusinessMetrics struct {
	operations metric.Int64Counter
	durations  metric.Float64Histogram
}

// NewBusinessMetrics registers <namespace>_operations_total and
// <namespace>_operation_duration_seconds on meterProvider.
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)
	bm := &otelBusinessMetrics{}

	var err error
	bm.operations, err = meter.Int64Counter(namespace+"_operations_total",
		metric.WithDescription("Key management operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, wrapInstrumentError("operations counter", err)
	}

	bm.durations, err = meter.Float64Histogram(namespace+"_operation_duration_seconds",
		metric.WithDescription("Key management operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, wrapInstrumentError("duration histogram", err)
	}
	return bm, nil
}

func (b *otelBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	b.operations.Add(ctx, 1, labels(domain, operation, status))
}

func (b *otelBusinessMetrics) RecordDuration(ctx context.Context, domain, operation string, d time.Duration, status string) {
	b.durations.Record(ctx, d.Seconds(), labels(domain, operation, status))
}

func labels(domain, operation, status string) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(
		attribute.String("domain", domain),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

type noopBusinessMetrics struct{}

// NewNoOpBusinessMetrics is used when METRICS_ENABLED is false.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return noopBusinessMetrics{}
}

func (noopBusinessMetrics) RecordOperation(context.Context, string, string, string) {}

func (noopBusinessMetrics) RecordDuration(context.Context, string, string, time.Duration, string) {}
