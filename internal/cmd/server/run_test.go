package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/gergesh/convex-mq/internal/config"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Fsync = "never"
	cfg.LogFormat = "text"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Config: cfg}) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "sometimes"
	if err := Run(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatal("invalid config accepted")
	}
}
