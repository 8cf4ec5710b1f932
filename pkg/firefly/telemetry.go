package firefly

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fivetwenty-io/firefly-mcp/pkg/firefly"

// Span and metric attribute keys.
const (
	attrResource = attribute.Key("firefly.resource")
	attrAction   = attribute.Key("firefly.action")
	attrCached   = attribute.Key("firefly.cached")
	attrOutcome  = attribute.Key("firefly.outcome")
)

// instruments holds the tracer and meters used by the router.
type instruments struct {
	tracer      trace.Tracer
	calls       metric.Int64Counter
	cacheLookup metric.Int64Counter
	duration    metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	calls, err := meter.Int64Counter("firefly.router.calls",
		metric.WithDescription("Router calls by resource, action and outcome"))
	if err != nil {
		calls, _ = fallback.Int64Counter("firefly.router.calls")
	}

	cacheLookup, err := meter.Int64Counter("firefly.cache.lookups",
		metric.WithDescription("Cache lookups by resource and hit/miss"))
	if err != nil {
		cacheLookup, _ = fallback.Int64Counter("firefly.cache.lookups")
	}

	duration, err := meter.Float64Histogram("firefly.router.duration",
		metric.WithDescription("Router call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		duration, _ = fallback.Float64Histogram("firefly.router.duration")
	}

	return &instruments{
		tracer:      otel.Tracer(instrumentationName),
		calls:       calls,
		cacheLookup: cacheLookup,
		duration:    duration,
	}
}

func (i *instruments) startSpan(ctx context.Context, resource string, action ActionKind) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "firefly."+string(action),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrResource.String(resource), attrAction.String(string(action))),
	)
}

// finish records the call outcome on the span and in the metrics. The
// caller ends the span.
func (i *instruments) finish(ctx context.Context, span trace.Span, resource string, action ActionKind, cached bool, elapsedMS float64, err *Error) {
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)

		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
	}

	span.SetAttributes(attrCached.Bool(cached), attrOutcome.String(outcome))

	attrs := metric.WithAttributes(attrResource.String(resource), attrAction.String(string(action)), attrOutcome.String(outcome))
	i.calls.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsedMS, attrs)
}

func (i *instruments) recordCacheLookup(ctx context.Context, resource string, hit bool) {
	i.cacheLookup.Add(ctx, 1, metric.WithAttributes(attrResource.String(resource), attrCached.Bool(hit)))
}
