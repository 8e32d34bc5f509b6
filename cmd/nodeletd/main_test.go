package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// executeCommand runs a fresh root command with args and returns its output
func executeCommand(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodeletd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	if root.Use != "nodeletd" {
		t.Errorf("Use = %q", root.Use)
	}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{"run", "types", "config"} {
		if !got[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestTypesCommand(t *testing.T) {
	out, err := executeCommand(context.Background(), "types")
	if err != nil {
		t.Fatalf("types: %v", err)
	}
	if out != "demo/heartbeat\ndemo/relay\n" {
		t.Errorf("types output = %q", out)
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := executeCommand(context.Background(), "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "mt_workers: 0") || !strings.Contains(out, "path: /metrics") {
		t.Errorf("default config output = %q", out)
	}

	path := writeConfig(t, "spinner:\n  mt_workers: 3\n")
	out, err = executeCommand(context.Background(), "config", "--config", path, "-o", "json")
	if err != nil {
		t.Fatalf("config --config: %v", err)
	}
	if !strings.Contains(out, `"mt_workers": 3`) {
		t.Errorf("json config output = %q", out)
	}

	if _, err := executeCommand(context.Background(), "config", "--config", writeConfig(t, "bogus: 1\n")); err == nil {
		t.Error("config with unknown key: expected error")
	}
}

func TestRunCommand(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
spinner:
  mt_workers: 2
metrics:
  enabled: true
  addr: 127.0.0.1:0
units:
  - name: pulse
    type: demo/heartbeat
    args: ["--period", "10ms"]
  - name: relay
    type: demo/relay
    remappings:
      ~in: /pulse/beat
`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out, err := executeCommand(ctx, "run", "--config", path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"unit loaded", "nodeletd running", "unit unloaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q", want)
		}
	}
}

func TestRunCommand_UnknownType(t *testing.T) {
	path := writeConfig(t, "units:\n  - name: x\n    type: demo/missing\n")
	if _, err := executeCommand(context.Background(), "run", "--config", path); err == nil {
		t.Error("run with unknown unit type: expected error")
	}
}
