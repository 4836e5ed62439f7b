// Package tracing is an optional OpenTelemetry seam wrapping each state
// invocation in a span named "<workflowName>.<stateName>", adapted from the
// teacher's internal/execution/app/tracing.Tracer (Jaeger exporter +
// resource + sampler wiring kept nearly as-is, stripped of the event-bus
// subscription loop that served the teacher's HTTP-service lifecycle).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is enabled and where spans are exported.
type Config struct {
	ServiceName    string
	JaegerEndpoint string
	Enabled        bool
	SampleRate     float64
}

// Tracer wraps an otel trace.Tracer behind the engine's per-state span
// seam.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New builds a Tracer. When cfg.Enabled is false, the returned Tracer emits
// no-op spans.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer("flowmesh/noop")}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("tracing: create jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{tracer: otel.Tracer(cfg.ServiceName), provider: provider}, nil
}

// Close flushes and shuts down the underlying provider, if any.
func (t *Tracer) Close(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartStateSpan opens a span named "<workflowName>.<stateName>" for one
// state invocation.
func (t *Tracer) StartStateSpan(ctx context.Context, workflowName, stateName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, workflowName+"."+stateName,
		trace.WithAttributes(
			attribute.String("flowmesh.workflow", workflowName),
			attribute.String("flowmesh.state", stateName),
		),
	)
}
