package sqlite

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer and meter follow the package-level instrumentation idiom used by
// the teacher's dolt storage backend: a single tracer/meter per package,
// instruments registered once in init().
var (
	tracer = otel.Tracer("memoryhub/storage/sqlite")
	meter  = otel.Meter("memoryhub/storage/sqlite")

	txCounter       metric.Int64Counter
	txDuration      metric.Float64Histogram
	lockWaitCounter metric.Int64Counter
	jobRetryCounter metric.Int64Counter
)

func init() {
	txCounter, _ = meter.Int64Counter("memoryhub.store.transactions",
		metric.WithDescription("count of write transactions opened"))
	txDuration, _ = meter.Float64Histogram("memoryhub.store.transaction_duration_ms",
		metric.WithDescription("write transaction duration in milliseconds"))
	lockWaitCounter, _ = meter.Int64Counter("memoryhub.store.lock_contention",
		metric.WithDescription("count of SQLITE_BUSY retries observed"))
	jobRetryCounter, _ = meter.Int64Counter("memoryhub.catalog.job_retries",
		metric.WithDescription("count of catalog job retries due to failure"))
}

// endSpan records err on span (if non-nil) and ends it, mirroring the
// teacher's endSpan helper in internal/storage/dolt/store.go.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
