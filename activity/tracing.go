package activity

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing wires the package-level tracer to an OTLP/gRPC collector at
// endpoint, returning a shutdown func the caller must run before exit to
// flush pending spans. Passing an empty endpoint leaves otel's default
// no-op tracer in place, so a build with tracing disabled pays nothing
// beyond the already-cheap span bookkeeping in otel.go.
func InitTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("dial otlp collector %s: %w", endpoint, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", "devenv")))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer("devenv/activity")

	return tp.Shutdown, nil
}
