package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_JSONOutputWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{JSONOutput: true, Level: "DEBUG", Output: &buf})

	logger.WithFields(map[string]any{"nodelet": "camera1"}).Info("nodelet initializing", "queue", "st")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "nodelet initializing" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["nodelet"] != "camera1" {
		t.Errorf("nodelet field = %v", entry["nodelet"])
	}
	if entry["queue"] != "st" {
		t.Errorf("queue field = %v", entry["queue"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "ERROR", Output: &buf})

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("hidden warn")
	logger.Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below ERROR should be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible error") {
		t.Errorf("error message missing from %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetDefaultLogger(t *testing.T) {
	prev := DefaultLogger()
	defer SetDefaultLogger(prev)

	nop := NopLogger()
	SetDefaultLogger(nop)
	if DefaultLogger() != nop {
		t.Error("SetDefaultLogger() did not replace the default logger")
	}

	SetDefaultLogger(nil)
	if DefaultLogger() != nop {
		t.Error("SetDefaultLogger(nil) should be ignored")
	}
}
