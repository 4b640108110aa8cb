package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("default http addr: %q", cfg.HTTPAddr)
	}
	if cfg.QueueDefaults.MaxAttempts != 3 {
		t.Fatalf("default max attempts: %d", cfg.QueueDefaults.MaxAttempts)
	}
	if cfg.QueueDefaults.VisibilityTimeoutMs != 30_000 {
		t.Fatalf("default visibility timeout: %d", cfg.QueueDefaults.VisibilityTimeoutMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "convex-mq.json")
	data := []byte(`{"httpAddr":":9090","fsync":"always","queueDefaults":{"maxAttempts":5,"visibilityTimeoutMs":60000}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTPAddr)
	}
	if cfg.Fsync != "always" {
		t.Fatalf("expected always, got %q", cfg.Fsync)
	}
	if cfg.QueueDefaults.MaxAttempts != 5 {
		t.Fatalf("expected 5, got %d", cfg.QueueDefaults.MaxAttempts)
	}
	// Unset fields keep defaults.
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info, got %q", cfg.LogLevel)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("CMQ_HTTP_ADDR", ":7070")
	t.Setenv("CMQ_MAX_ATTEMPTS", "7")
	t.Setenv("CMQ_FSYNC", "never")
	FromEnv(&cfg)
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("env override addr: %q", cfg.HTTPAddr)
	}
	if cfg.QueueDefaults.MaxAttempts != 7 {
		t.Fatalf("env override attempts: %d", cfg.QueueDefaults.MaxAttempts)
	}
	if cfg.Fsync != "never" {
		t.Fatalf("env override fsync: %q", cfg.Fsync)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad fsync mode accepted")
	}
	cfg = Default()
	cfg.QueueDefaults.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero max attempts accepted")
	}
	cfg = Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty data dir accepted")
	}
}
