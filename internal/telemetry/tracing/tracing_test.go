package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanProducesExtractableIDs(t *testing.T) {
	tr := NewTracer(true)
	defer func() { require.NoError(t, tr.Shutdown(context.Background())) }()

	ctx, span := tr.StartSpan(context.Background(), "deliver", "corr-1")
	defer span.End()

	traceID, spanID := ExtractIDs(ctx)
	assert.NotEmpty(t, traceID)
	assert.NotEmpty(t, spanID)
}

func TestChildSpanSharesTraceID(t *testing.T) {
	tr := NewTracer(true)
	defer func() { _ = tr.Shutdown(context.Background()) }()

	ctx, parent := tr.StartSpan(context.Background(), "send", "corr-1")
	parentTrace, parentSpan := ExtractIDs(ctx)

	childCtx, child := tr.StartSpan(ctx, "deliver", "corr-1")
	childTrace, childSpan := ExtractIDs(childCtx)
	child.End()
	parent.End()

	assert.Equal(t, parentTrace, childTrace)
	assert.NotEqual(t, parentSpan, childSpan)
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tr := NewTracer(false)
	ctx, span := tr.StartSpan(context.Background(), "deliver", "")
	defer span.End()
	traceID, spanID := ExtractIDs(ctx)
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
	require.NoError(t, tr.Shutdown(context.Background()))
}
