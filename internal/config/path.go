package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks where the node keeps its store when no dataDir is
// configured: $XDG_DATA_HOME first, then the usual per-OS location, then a
// dotdir under the home directory.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "convex-mq")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}

	candidates := []struct {
		probe string
		dir   string
	}{
		{"/var/lib", "/var/lib/convex-mq"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "convex-mq")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "convex-mq")},
	}
	for _, c := range candidates {
		if info, err := os.Stat(c.probe); err == nil && info.IsDir() {
			return c.dir
		}
	}
	return filepath.Join(home, ".convex-mq")
}
