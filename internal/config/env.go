package config

import (
	"os"
	"strconv"
)

// FromEnv overlays CMQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CMQ_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CMQ_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CMQ_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("CMQ_FSYNC_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncMs = n
		}
	}
	if v := os.Getenv("CMQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CMQ_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CMQ_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.MaxAttempts = n
		}
	}
	if v := os.Getenv("CMQ_VISIBILITY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.QueueDefaults.VisibilityTimeoutMs = n
		}
	}
}
