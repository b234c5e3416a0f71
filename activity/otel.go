package activity

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits one span per activity alongside the event-bus stream, so a
// collector wired up via otlptracegrpc sees the same start/complete
// structure a TUI consumer sees from the Event channel. This is additive:
// nothing here affects Event delivery, and a build with no span processor
// registered (the default, via otel's no-op tracer) costs nothing.
var tracer = otel.Tracer("devenv/activity")

// spans tracks the in-flight span for each live activity id so a child
// activity (looked up by parent id) can be started inside its parent's
// span context rather than as a bare root span.
var spans sync.Map // uint64 -> trace.Span

func startSpan(kind Kind, name string, id uint64, parent *uint64) {
	ctx := context.Background()
	if parent != nil {
		if v, ok := spans.Load(*parent); ok {
			ctx = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	spanName := name
	if spanName == "" {
		spanName = string(kind)
	}
	_, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("devenv.activity.kind", string(kind)),
		attribute.Int64("devenv.activity.id", int64(id)),
	))
	spans.Store(id, span)
}

func endSpan(id uint64, outcome Outcome) {
	v, ok := spans.LoadAndDelete(id)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("devenv.activity.outcome", string(outcome)))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "activity failed")
	}
	span.End()
}
