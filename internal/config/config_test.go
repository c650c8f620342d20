package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}

	want := Default()
	if cfg.Port != want.Port {
		t.Errorf("port = %d, want %d", cfg.Port, want.Port)
	}
	if cfg.DBPath != want.DBPath {
		t.Errorf("db path = %q, want %q", cfg.DBPath, want.DBPath)
	}
	if !cfg.WorkerEnabled {
		t.Error("worker disabled by default")
	}
	if cfg.WorkerInterval != 30*time.Second {
		t.Errorf("worker interval = %v, want 30s", cfg.WorkerInterval)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nd.yaml")
	content := `
port: 9090
db_path: /tmp/nd-test.db
worker_enabled: false
worker_interval: 5s
log_file: /tmp/nd-test.log
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.DBPath != "/tmp/nd-test.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.WorkerEnabled {
		t.Error("worker_enabled: false not honored")
	}
	if cfg.WorkerInterval != 5*time.Second {
		t.Errorf("worker interval = %v, want 5s", cfg.WorkerInterval)
	}
	if cfg.LogFile != "/tmp/nd-test.log" {
		t.Errorf("log file = %q", cfg.LogFile)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nd.yaml")
	if err := os.WriteFile(path, []byte("port: 9191\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Port)
	}
	if cfg.DBPath != Default().DBPath {
		t.Errorf("db path = %q, want default", cfg.DBPath)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"port out of range", "port: 70000\n"},
		{"negative port", "port: -1\n"},
		{"empty db path", "db_path: \"\"\n"},
		{"malformed yaml", "port: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NOTEDECK_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Port)
	}
}
