package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	cfgpkg "github.com/gergesh/convex-mq/internal/config"
	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/internal/scheduler"
	pebblestore "github.com/gergesh/convex-mq/internal/storage/pebble"
	"github.com/gergesh/convex-mq/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  log.Logger
	Metrics queue.Metrics
	// StoreMetrics observes storage latencies. Optional.
	StoreMetrics pebblestore.MetricsHook
}

// Runtime wires storage, the reclaim scheduler and the queue registry for a
// single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	sched   *scheduler.Scheduler
	config  cfgpkg.Config
	logger  log.Logger
	metrics queue.Metrics

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.Config.DataDir,
		Fsync:         fsyncMode(opts.Config.Fsync),
		FsyncInterval: time.Duration(opts.Config.FsyncMs) * time.Millisecond,
		Metrics:       opts.StoreMetrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:      db,
		sched:   scheduler.New(),
		config:  opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		queues:  make(map[string]*queue.Queue),
	}, nil
}

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeInterval
	}
}

// Close stops the scheduler and closes storage. Armed reclaims are dropped;
// leases still claimed at the next startup simply wait out their timeout
// from RestoreLeases.
func (r *Runtime) Close() error {
	if r.sched != nil {
		r.sched.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage probe.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// OpenQueue returns the named queue, opening and caching it on first use.
func (r *Runtime) OpenQueue(name string) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, err := queue.Open(r.db, r.sched, name, queue.Options{
		DefaultMaxAttempts:       r.config.QueueDefaults.MaxAttempts,
		DefaultVisibilityTimeout: time.Duration(r.config.QueueDefaults.VisibilityTimeoutMs) * time.Millisecond,
		Logger:                   r.logger,
		Metrics:                  r.metrics,
	})
	if err != nil {
		return nil, err
	}
	r.queues[name] = q
	return r.queues[name], nil
}

// Queues lists the names of queues that currently have rows on disk.
func (r *Runtime) Queues() ([]string, error) {
	it, err := r.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	// Jump queue by queue instead of scanning every row.
	for ok := it.SeekGE([]byte("q/")); ok; {
		key := it.Key()
		if len(key) < 2 || string(key[:2]) != "q/" {
			break
		}
		rest := string(key[2:])
		slash := -1
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				slash = i
				break
			}
		}
		if slash <= 0 {
			break
		}
		name := rest[:slash]
		names = append(names, name)
		// '0' is '/'+1, so this lands on the first key past the queue.
		ok = it.SeekGE([]byte("q/" + name + "0"))
	}
	return names, nil
}

// RestoreLeases re-arms visibility timers across all queues. Called once at
// startup so leases claimed before the last shutdown still time out.
func (r *Runtime) RestoreLeases(ctx context.Context) error {
	names, err := r.Queues()
	if err != nil {
		return err
	}
	for _, name := range names {
		q, err := r.OpenQueue(name)
		if err != nil {
			r.logger.Warn("skipping lease restore", log.Str("queue", name), log.Err(err))
			continue
		}
		if _, err := q.RestoreLeases(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
