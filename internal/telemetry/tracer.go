// Package telemetry constructs the OpenTelemetry SDK TracerProvider that
// backs the trace.Tracer interface the engine and runner packages accept.
// Nothing outside this package imports the SDK directly; everywhere else
// depends only on go.opentelemetry.io/otel/trace.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracer provider construction.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// SampleRatio is the fraction of traces recorded, in (0,1). Zero or
	// out-of-range keeps the SDK's always-on default.
	SampleRatio float64
}

// Provider owns the process's TracerProvider; Shutdown must run before
// exit to flush buffered spans.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds a Provider from cfg and registers it as the global tracer
// provider, so otel.Tracer(...) calls anywhere in the process (including
// the Engine's own default) pick it up without being handed it explicitly.
func New(cfg Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	allOpts := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		allOpts = append(allOpts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))))
	}

	tp := sdktrace.NewTracerProvider(allOpts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Tracer returns a tracer scoped to name, suitable for workflow.WithTracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes buffered spans and releases the provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
