package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type traceIDKey struct{}

// tracerName identifies this module's spans in exported traces.
const tracerName = "github.com/homelabops/orchestrator"

// StartSpan begins a span named for the current suspension point (store
// call, bus publish, LLM request, audit write, fan-out broadcast — the
// exact set named in spec §5) and stashes its trace ID in the context so
// Logger.*Context calls can correlate log lines with the span.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return context.WithValue(ctx, traceIDKey{}, span.SpanContext().TraceID().String()), span
}

// TraceIDFromContext returns the active trace ID, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SetAttr is a small convenience wrapper around span.SetAttributes for the
// common case of a single string attribute.
func SetAttr(span trace.Span, key, value string) {
	span.SetAttributes(attribute.String(key, value))
}
