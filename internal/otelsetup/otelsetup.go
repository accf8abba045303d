// Package otelsetup registers the process-wide OpenTelemetry metrics
// provider the store package's instruments (internal/storage/sqlite/metrics.go)
// and the sync engine's counters publish through. The teacher imports the
// same SDK/exporter trio (go.mod: otel/sdk, otel/sdk/metric,
// otel/exporters/stdout/stdoutmetric) for its dolt backend's instrumentation
// but never itself wires a provider at the entrypoint — this package does,
// so the counters flow somewhere observable instead of silently no-opping
// against the default global provider.
package otelsetup

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// exportInterval bounds how often accumulated counters/histograms are
// flushed to the exporter; short enough to be useful in a long-running
// daemon, long enough not to spam stderr on every tool call.
const exportInterval = 30 * time.Second

// Setup installs a periodic-reader MeterProvider writing to w (typically
// os.Stderr, kept separate from the JSON-RPC stdout stream) and returns a
// shutdown func the caller must invoke once, on exit, to flush and release
// resources. If w is nil, metrics are discarded but still flow through the
// SDK (useful for tests that don't want to pollute stderr).
func Setup(w io.Writer) (shutdown func(context.Context) error, err error) {
	if w == nil {
		w = io.Discard
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps(), stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}
