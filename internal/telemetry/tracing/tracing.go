// Package tracing wraps OpenTelemetry span creation for the
// notification pipeline: one span per operation (send,
// negotiate_capabilities, deliver; image downloads are not traced)
// carrying the record's correlation id as an attribute so logs,
// receipts, and spans line up on the same identifier.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"notifyd/models"
)

// Tracer starts correlation-stamped spans. A disabled Tracer is a
// cheap no-op, same contract as the metrics provider's noop backend.
type Tracer struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTracer builds a Tracer. When enabled it owns a private SDK
// TracerProvider (no exporter wired by default; callers may register
// one on the returned provider); when disabled every span is a no-op.
func NewTracer(enabled bool) *Tracer {
	if !enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("notifyd")}
	}
	tp := sdktrace.NewTracerProvider()
	return &Tracer{tracer: tp.Tracer("notifyd"), tp: tp}
}

// StartSpan opens a span named name, tagged with the correlation id
// when one is present. The returned context carries the span for
// ExtractIDs and child spans.
func (t *Tracer) StartSpan(ctx context.Context, name string, correlationID models.CorrelationID) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	if correlationID != "" {
		span.SetAttributes(attribute.String("correlation_id", string(correlationID)))
	}
	return ctx, span
}

// ExtractIDs pulls the active trace and span ids out of ctx for log
// correlation; empty strings when no recording span is present.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// Shutdown flushes the underlying provider, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}
