package otelsetup

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_RegistersGlobalMeterProvider(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(&buf)
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	meter := otel.Meter("otelsetup-test")
	counter, err := meter.Int64Counter("otelsetup.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestSetup_NilWriterDiscardsOutput(t *testing.T) {
	shutdown, err := Setup(nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
