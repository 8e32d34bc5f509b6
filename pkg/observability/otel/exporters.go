package otel

import (
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	defaultJaegerEndpoint = "http://localhost:14268/api/traces"
	defaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"
)

// newExporter returns the exporter selected by c, or nil for "none"
func newExporter(c Config) (sdktrace.SpanExporter, error) {
	switch c.Exporter {
	case "jaeger":
		endpoint := c.Endpoint
		if endpoint == "" {
			endpoint = defaultJaegerEndpoint
		}
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}
		return exp, nil
	case "zipkin":
		endpoint := c.Endpoint
		if endpoint == "" {
			endpoint = defaultZipkinEndpoint
		}
		exp, err := zipkin.New(endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create Zipkin exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		w := c.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", c.Exporter)
	}
}
