package otel

import (
	"fmt"
	"io"
)

// Config configures OpenTelemetry tracing of callbacks
type Config struct {
	// ServiceName is reported as service.name
	ServiceName string

	// ServiceVersion is reported as service.version
	ServiceVersion string

	// Exporter is one of "jaeger", "zipkin", "stdout", "none"
	Exporter string

	// Endpoint is the collector URL for jaeger and zipkin
	Endpoint string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// SampleRate is the fraction of root spans sampled (0.0 to 1.0)
	SampleRate float64

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns a stdout configuration sampling everything
func DefaultConfig() Config {
	return Config{
		ServiceName:    "nodeletd",
		ServiceVersion: "1.0.0",
		Exporter:       "stdout",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case "jaeger", "zipkin", "stdout", "none":
	default:
		return fmt.Errorf("unsupported exporter: %s", c.Exporter)
	}
	return nil
}
