package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr      string        `json:"httpAddr"`
	DataDir       string        `json:"dataDir"`
	Fsync         string        `json:"fsync"` // always | interval | never
	FsyncMs       int           `json:"fsyncMs"`
	LogLevel      string        `json:"logLevel"`
	LogFormat     string        `json:"logFormat"` // json | text
	QueueDefaults QueueDefaults `json:"queueDefaults"`
}

// QueueDefaults captures per-message baselines used when a publish does not
// override them.
type QueueDefaults struct {
	MaxAttempts         int   `json:"maxAttempts"`
	VisibilityTimeoutMs int64 `json:"visibilityTimeoutMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		DataDir:   DefaultDataDir(),
		Fsync:     "interval",
		FsyncMs:   5,
		LogLevel:  "info",
		LogFormat: "json",
		QueueDefaults: QueueDefaults{
			MaxAttempts:         3,
			VisibilityTimeoutMs: 30_000,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot start with.
func (c Config) Validate() error {
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("invalid fsync mode %q", c.Fsync)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.QueueDefaults.MaxAttempts < 1 {
		return fmt.Errorf("queueDefaults.maxAttempts must be >= 1")
	}
	if c.QueueDefaults.VisibilityTimeoutMs < 1 {
		return fmt.Errorf("queueDefaults.visibilityTimeoutMs must be >= 1")
	}
	return nil
}
