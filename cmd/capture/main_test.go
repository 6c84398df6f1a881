package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	t.Setenv("CAPTURE_CONFIG", "")

	opts, err := parseFlags([]string{"--broker", "tcp://10.0.0.5:1883", "--log-level=debug", "-c", "x.yaml"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.broker != "tcp://10.0.0.5:1883" || opts.logLevel != "debug" || opts.configPath != "x.yaml" {
		t.Errorf("parseFlags() = %+v", opts)
	}

	opts, err = parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags(nil) error = %v", err)
	}
	if opts.configPath != defaultConfigPath {
		t.Errorf("default config path = %q, want %q", opts.configPath, defaultConfigPath)
	}

	t.Setenv("CAPTURE_CONFIG", "/etc/capture.yaml")
	if opts, _ = parseFlags(nil); opts.configPath != "/etc/capture.yaml" {
		t.Errorf("config path from env = %q", opts.configPath)
	}

	if _, err := parseFlags([]string{"--nope"}); err == nil {
		t.Error("parseFlags() with unknown flag should fail")
	}
	if _, err := parseFlags([]string{"stray"}); err == nil {
		t.Error("parseFlags() with positional argument should fail")
	}
}

// TestRun_InvalidConfig verifies run fails with an explicit config path that does not exist.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies validation rejects an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
site:
  id: test-site
database:
  path: ""
logging:
  level: info
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "database.path is required") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_BadBrokerFlag verifies the injected broker URL is validated.
func TestRun_BadBrokerFlag(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
site:
  id: test-site
database:
  path: `+filepath.Join(dir, "catalog.db")+`
storage:
  sessions_dir: `+filepath.Join(dir, "sessions")+`
`)

	err := run(context.Background(), options{configPath: path, broker: "ftp://nowhere"})
	if err == nil || !strings.Contains(err.Error(), "mqtt.url") {
		t.Fatalf("run() error = %v, want mqtt.url validation error", err)
	}
}

// TestRun_NoBrokerStartsAndStops verifies the service comes up without any
// reachable broker and shuts down cleanly on cancellation.
func TestRun_NoBrokerStartsAndStops(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
site:
  id: test-site
mqtt:
  brokers: []
  base_topic: zigbee2mqtt
database:
  path: `+filepath.Join(dir, "catalog.db")+`
  wal_mode: true
  busy_timeout: 5
storage:
  sessions_dir: `+filepath.Join(dir, "sessions")+`
influxdb:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after context cancellation")
	}

	if _, err := os.Stat(filepath.Join(dir, "catalog.db")); err != nil {
		t.Errorf("catalog database not created: %v", err)
	}
}
