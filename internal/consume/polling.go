package consume

import (
	"context"
	"sync"
	"time"

	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/pkg/log"
)

// DefaultPollInterval is used when PollingOptions.Interval is not set.
const DefaultPollInterval = 5 * time.Second

// PollingOptions configures a polling consumer.
type PollingOptions struct {
	// Interval is the pause between ticks.
	Interval time.Duration
	// BatchSize caps messages claimed per tick; the handler still sees
	// them one at a time.
	BatchSize int
	// Filter narrows which messages are claimed (fields only).
	Filter queue.Filter
	// OnExhausted is invoked for messages dropped after their final
	// attempt. Optional.
	OnExhausted func(queue.Exhausted)
	Logger      log.Logger
}

// ConsumePolling starts a consumer that checks the queue every Interval
// regardless of signals. Each tick peeks, claims at most one batch, and
// handles the claimed messages one at a time (ack on success, nack on
// failure), so BatchSize bounds the work done per tick. Claim and handler
// errors are logged and the loop keeps running; only the returned stop
// function ends it.
func ConsumePolling(src Source, handler Handler, opts PollingOptions) (stop func()) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	drainOpts := Options{
		BatchSize:   opts.BatchSize,
		Filter:      opts.Filter,
		OnExhausted: opts.OnExhausted,
		Logger:      opts.Logger,
	}
	drainOpts.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			pollOnce(ctx, src, handler, drainOpts)
			timer.Reset(opts.Interval)
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// pollOnce is a single tick: peek, one claim, then per-message handling.
// Errors end the tick, not the consumer.
func pollOnce(ctx context.Context, src Source, handler Handler, opts Options) {
	f := queue.Filter{Fields: opts.Filter.Fields}
	pending, err := src.Peek(ctx, f)
	if err != nil {
		opts.Logger.Error("poll peek failed", log.Err(err))
		return
	}
	if !pending {
		return
	}

	claimed, err := src.Claim(ctx, opts.BatchSize, f)
	if err != nil {
		opts.Logger.Error("poll claim failed", log.Err(err))
		return
	}
	for _, m := range claimed {
		if ctx.Err() != nil {
			return
		}
		if err := handler(ctx, []queue.Claimed{m}); err != nil {
			nackOne(ctx, src, m, err.Error(), opts)
			continue
		}
		ackOne(ctx, src, m, opts.Logger)
	}
}
