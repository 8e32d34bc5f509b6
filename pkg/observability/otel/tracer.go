// Package otel traces callback execution and handle traffic with
// OpenTelemetry.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/fluxorio/nodelet"

var (
	mu          sync.RWMutex
	tracer      trace.Tracer
	provider    *sdktrace.TracerProvider
	initialized bool
)

// Initialize installs a tracer provider built from config as the global
// provider. It fails if tracing is already initialized.
func Initialize(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return fmt.Errorf("OpenTelemetry already initialized")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(config)
	if err != nil {
		return err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider = tp
	tracer = tp.Tracer(instrumentationName)
	initialized = true
	return nil
}

// Use installs tp without touching the global otel provider. Shutdown
// forgets it but leaves tp running; the caller owns it.
func Use(tp trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = nil
	tracer = tp.Tracer(instrumentationName)
	initialized = true
}

// Tracer returns the configured tracer, or a noop tracer before Initialize
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a span on Tracer()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// IsInitialized reports whether a tracer has been installed
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// Shutdown flushes pending spans and resets tracing to the noop tracer
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return nil
	}

	tp := provider
	provider = nil
	tracer = nil
	initialized = false
	if tp != nil {
		return tp.Shutdown(ctx)
	}
	return nil
}
