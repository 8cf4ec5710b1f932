package firefly_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fivetwenty-io/firefly-mcp/internal/telemetry"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// logLines decodes JSON log output into one map per line.
func logLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any

	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))

		lines = append(lines, line)
	}

	return lines
}

func TestRouter_LogsCarryTraceIDs(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var output bytes.Buffer

	logger := firefly.NewSlogLogger(telemetry.NewLogger(&output, "debug", "json"))
	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		return rawResponse(http.StatusNotFound, `{"message":"Resource not found"}`), nil
	})

	router := firefly.NewRouter(doer, nil, nil,
		firefly.WithRouterLogger(logger),
		firefly.WithTracerProvider(provider),
	)

	ctx, parent := provider.Tracer("test").Start(context.Background(), "tool call")
	_, err := router.Execute(ctx, "accounts", "get", map[string]any{"id": "7"})
	parent.End()

	require.ErrorIs(t, err, firefly.ErrNotFound)

	var failed map[string]any

	for _, line := range logLines(t, &output) {
		if line["msg"] == "Router call failed" {
			failed = line
		}
	}

	require.NotNil(t, failed, "router did not log the failed call")
	assert.Equal(t, parent.SpanContext().TraceID().String(), failed["trace_id"])
	assert.NotEmpty(t, failed["span_id"])
	assert.NotEqual(t, parent.SpanContext().SpanID().String(), failed["span_id"])
}

func TestRouter_SpanEndsOnPanic(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		panic("transport exploded")
	})

	router := firefly.NewRouter(doer, nil, nil, firefly.WithTracerProvider(provider))

	assert.Panics(t, func() {
		_, _ = router.Execute(context.Background(), "transactions", "delete", map[string]any{"id": "9"})
	})

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "firefly.delete", ended[0].Name())
}
