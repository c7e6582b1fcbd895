package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matzehuels/genretree/pkg/observability"
)

// startStage opens a span for stage and reports the start to the pipeline
// hooks. The returned func closes both and must be called exactly once.
func startStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
	hooks := observability.Pipeline()
	hooks.OnStageStart(ctx, stage)
	start := time.Now()

	return ctx, func(err error) {
		hooks.OnStageComplete(ctx, stage, time.Since(start), err)
		endSpan(span, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
