package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/nodelet/pkg/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("CAMERA_RATE", "30")
	path := writeFile(t, "nodelets.yaml", `
logging:
  level: debug
  json: true
spinner:
  mt_workers: 4
metrics:
  enabled: true
  addr: 127.0.0.1:9100
  health_timeout: 500ms
units:
  - name: camera1
    type: demo/heartbeat
    args: ["--rate", "${CAMERA_RATE}"]
  - name: relay
    type: demo/relay
    remappings:
      ~in: /camera1/beat
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, 4, cfg.Spinner.MTWorkers)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Metrics.HealthTimeout)
	// keys left out keep their defaults
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "nodeletd", cfg.Tracing.ServiceName)

	require.Len(t, cfg.Units, 2)
	assert.Equal(t, []string{"--rate", "30"}, cfg.Units[0].Args)
	assert.Equal(t, "/camera1/beat", cfg.Units[1].Remappings["~in"])
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "nodelets.json", `{
  "spinner": {"mt_workers": 2, "pin_threads": true},
  "tracing": {"enabled": true, "exporter": "none"},
  "units": [{"name": "relay", "type": "demo/relay"}]
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Spinner.PinThreads)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "cfg.toml", ""},
		{"unknown yaml key", "cfg.yaml", "spinner:\n  threads: 2\n"},
		{"unknown json key", "cfg.json", `{"logging": {"colour": true}}`},
		{"malformed yaml", "cfg.yaml", "units: [\n"},
		{"invalid values", "cfg.yaml", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.Spinner.MTWorkers = -1
	cfg.Metrics = MetricsConfig{Enabled: true, Path: "metrics"}
	cfg.Tracing = TracingConfig{Enabled: true, Exporter: "kafka", SampleRate: 2}
	cfg.Units = []UnitConfig{
		{Name: "a", Type: "demo/relay"},
		{Name: "a", Type: "demo/relay"},
		{Name: "1bad"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"spinner.mt_workers",
		"metrics.addr",
		"metrics.path",
		"metrics.health_timeout",
		"tracing.exporter",
		"tracing.sample_rate",
		"tracing.service_name",
		"duplicate unit",
		"units[2].type",
	} {
		assert.Contains(t, err.Error(), want)
	}
	assert.True(t, errors.Is(err, core.ErrInvalidName))
}

func TestConfig_Write(t *testing.T) {
	cfg := Default()
	cfg.Units = []UnitConfig{{Name: "relay", Type: "demo/relay"}}

	for _, format := range []string{"yaml", "json"} {
		var buf bytes.Buffer
		require.NoError(t, cfg.Write(&buf, format))

		var back Config
		if format == "yaml" {
			require.NoError(t, DecodeYAML(buf.Bytes(), &back))
		} else {
			require.NoError(t, DecodeJSON(buf.Bytes(), &back))
		}
		assert.Equal(t, cfg.Units[0].Name, back.Units[0].Name, format)
	}

	assert.Error(t, cfg.Write(&bytes.Buffer{}, "ini"))
}
