// Package config loads the nodelet daemon configuration from YAML or JSON.
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxorio/nodelet/pkg/core"
)

// Config is the daemon configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Spinner SpinnerConfig `yaml:"spinner" json:"spinner"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Units   []UnitConfig  `yaml:"units" json:"units"`
}

// LoggingConfig selects the log format and level
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// SpinnerConfig sizes the executors of every loaded unit
type SpinnerConfig struct {
	// MTWorkers is the multi-threaded spinner size, 0 for one per CPU
	MTWorkers  int  `yaml:"mt_workers" json:"mt_workers"`
	PinThreads bool `yaml:"pin_threads" json:"pin_threads"`
}

// MetricsConfig controls the Prometheus endpoint. The same server answers
// /healthz with a probe of every loaded unit.
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Addr          string        `yaml:"addr" json:"addr"`
	Path          string        `yaml:"path" json:"path"`
	HealthTimeout time.Duration `yaml:"health_timeout" json:"health_timeout"`
}

// TracingConfig controls callback tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// UnitConfig is one unit to load at startup
type UnitConfig struct {
	Name       string            `yaml:"name" json:"name"`
	Type       string            `yaml:"type" json:"type"`
	Remappings map[string]string `yaml:"remappings" json:"remappings"`
	Args       []string          `yaml:"args" json:"args"`
}

// Default returns the configuration used for keys a file leaves out
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "INFO"},
		Metrics: MetricsConfig{Addr: ":9090", Path: "/metrics", HealthTimeout: 2 * time.Second},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "nodeletd",
			SampleRate:  1.0,
		},
	}
}

var validLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true}

var validExporters = map[string]bool{"jaeger": true, "zipkin": true, "stdout": true, "none": true}

// Validate reports every problem found in c
func (c Config) Validate() error {
	var errs []error

	if !validLevels[strings.ToUpper(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Spinner.MTWorkers < 0 {
		errs = append(errs, fmt.Errorf("spinner.mt_workers: must not be negative"))
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			errs = append(errs, fmt.Errorf("metrics.addr: required when metrics are enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("metrics.path: must start with '/'"))
		}
		if err := core.ValidateTimeout(c.Metrics.HealthTimeout); err != nil {
			errs = append(errs, fmt.Errorf("metrics.health_timeout: %w", err))
		}
	}
	if c.Tracing.Enabled {
		if !validExporters[c.Tracing.Exporter] {
			errs = append(errs, fmt.Errorf("tracing.exporter: unsupported exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_rate: must be between 0.0 and 1.0"))
		}
		if c.Tracing.ServiceName == "" {
			errs = append(errs, fmt.Errorf("tracing.service_name: required when tracing is enabled"))
		}
	}

	seen := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if err := core.ValidateName(u.Name); err != nil {
			errs = append(errs, fmt.Errorf("units[%d].name: %w", i, err))
		}
		if u.Type == "" {
			errs = append(errs, fmt.Errorf("units[%d].type: required", i))
		}
		if seen[u.Name] {
			errs = append(errs, fmt.Errorf("units[%d].name: duplicate unit %q", i, u.Name))
		}
		seen[u.Name] = true
	}
	return errors.Join(errs...)
}

// Load reads the file at path, choosing the decoder by extension, on top of
// Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = LoadYAML(path, &cfg)
	case ".json":
		err = LoadJSON(path, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes c in the given format ("yaml" or "json")
func (c Config) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return WriteYAML(w, c)
	case "json":
		return WriteJSON(w, c)
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
}

// Logger builds the logger described by the logging section
func (c LoggingConfig) Logger(w io.Writer) core.Logger {
	return core.NewLogger(core.LoggerConfig{JSONOutput: c.JSON, Level: c.Level, Output: w})
}
