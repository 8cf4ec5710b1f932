package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/internal/telemetry"
)

func TestInit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("none installs nothing", func(t *testing.T) {
		t.Parallel()

		shutdown, err := telemetry.Init(ctx, constants.ServiceName, "test", telemetry.Config{Exporter: telemetry.ExporterNone})
		require.NoError(t, err)
		require.NoError(t, shutdown(ctx))
	})

	t.Run("stdout", func(t *testing.T) {
		t.Parallel()

		var buffer bytes.Buffer

		shutdown, err := telemetry.Init(ctx, constants.ServiceName, "test", telemetry.Config{Exporter: telemetry.ExporterStdout, Writer: &buffer})
		require.NoError(t, err)
		require.NoError(t, shutdown(ctx))
	})

	t.Run("otlp requires endpoint", func(t *testing.T) {
		t.Parallel()

		_, err := telemetry.Init(ctx, constants.ServiceName, "test", telemetry.Config{Exporter: telemetry.ExporterOTLP})
		require.ErrorIs(t, err, constants.ErrOTLPEndpointEmpty)
	})

	t.Run("unknown exporter", func(t *testing.T) {
		t.Parallel()

		_, err := telemetry.Init(ctx, constants.ServiceName, "test", telemetry.Config{Exporter: "zipkin"})
		require.ErrorIs(t, err, constants.ErrUnknownExporter)
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("filters by level", func(t *testing.T) {
		t.Parallel()

		var buffer bytes.Buffer

		logger := telemetry.NewLogger(&buffer, "warn", "text")
		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buffer.String(), "hidden")
		assert.Contains(t, buffer.String(), "shown")
	})

	t.Run("adds trace ids", func(t *testing.T) {
		t.Parallel()

		var buffer bytes.Buffer

		provider := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

		ctx, span := provider.Tracer("test").Start(context.Background(), "call")
		defer span.End()

		logger := telemetry.NewLogger(&buffer, "debug", "json")
		logger.InfoContext(ctx, "routed", "resource", "accounts")

		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(buffer.Bytes(), &record))
		assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
		assert.Equal(t, "accounts", record["resource"])
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEBUG", telemetry.ParseLevel("debug").String())
	assert.Equal(t, "WARN", telemetry.ParseLevel(" Warning ").String())
	assert.Equal(t, "ERROR", telemetry.ParseLevel("error").String())
	assert.Equal(t, "INFO", telemetry.ParseLevel("verbose").String())
}
