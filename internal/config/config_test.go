package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kata.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Execution.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Execution.Timeout)
	}
	if cfg.Execution.FlushInterval != 50*time.Millisecond {
		t.Errorf("flush interval = %v, want 50ms", cfg.Execution.FlushInterval)
	}
	if cfg.Execution.BatchSize != 1000 {
		t.Errorf("batch size = %d, want 1000", cfg.Execution.BatchSize)
	}
	if cfg.Sandbox.Network {
		t.Error("sandbox network should default to off")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
server:
  port: 9090
sandbox:
  mode: docker
  memory: 128m
execution:
  timeout: 3s
grading:
  mode: http
  token: ${KATA_TEST_TOKEN}
`)
	t.Setenv("KATA_TEST_TOKEN", "s3cret")
	t.Setenv("KATA_POOL_SIZE", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Execution.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", cfg.Execution.Timeout)
	}
	if cfg.Pool.Size != 4 {
		t.Errorf("pool size = %d, want 4 from env", cfg.Pool.Size)
	}
	if cfg.Grading.Token != "s3cret" {
		t.Errorf("token = %q, want expanded env value", cfg.Grading.Token)
	}

	p := cfg.Policy()
	if p.Mode != "docker" || p.MaxMemory != "128m" {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KATA_SERVER_PORT=7070\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("KATA_SERVER_PORT") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070 from .env", cfg.Server.Port)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	example, err := filepath.Abs(filepath.Join("..", "..", "kata.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(t.TempDir())

	defaults, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	cfg, err := Load(example)
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Execution != defaults.Execution {
		t.Errorf("example execution = %+v, want the defaults %+v", cfg.Execution, defaults.Execution)
	}
	if cfg.Server.Port != defaults.Server.Port {
		t.Errorf("example port = %d, want %d", cfg.Server.Port, defaults.Server.Port)
	}
}
