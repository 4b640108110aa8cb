package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfgpkg "github.com/gergesh/convex-mq/internal/config"
	"github.com/gergesh/convex-mq/internal/metrics"
	"github.com/gergesh/convex-mq/internal/runtime"
	httpserver "github.com/gergesh/convex-mq/internal/server/http"
	logpkg "github.com/gergesh/convex-mq/pkg/log"
)

// Options for a server run.
type Options struct {
	Config cfgpkg.Config
}

// Run starts the node and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// pass context.Background still get clean shutdown on SIGTERM.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg)
	logpkg.RedirectStdLog(logger)

	metrics.Register()

	storeCfg := cfg
	storeCfg.DataDir = filepath.Join(cfg.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		Config:       storeCfg,
		Logger:       logger,
		Metrics:      metrics.QueueCollector{},
		StoreMetrics: metrics.StoreCollector{},
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Leases claimed before the last shutdown have no live timers.
	if err := rt.RestoreLeases(sctx); err != nil {
		return err
	}

	logger.Info("starting convex-mq server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Str("level", cfg.LogLevel),
		logpkg.Str("format", cfg.LogFormat),
	)

	srv := httpserver.New(rt, cfg.HTTPAddr, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-sctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", logpkg.Err(err))
	}
	logger.Info("server stopped")
	return nil
}

func buildLogger(cfg cfgpkg.Config) logpkg.Logger {
	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.JSONFormatter{}
	if cfg.LogFormat == "text" {
		formatter = &logpkg.TextFormatter{}
	}
	return logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
}
