package consume

import (
	"context"
	"sync"

	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/pkg/id"
	"github.com/gergesh/convex-mq/pkg/log"
)

// DefaultBatchSize is used when Options.BatchSize is not set.
const DefaultBatchSize = 10

// Source is the queue surface the engine consumes from. *queue.Queue
// satisfies it.
type Source interface {
	Peek(ctx context.Context, f queue.Filter) (bool, error)
	Claim(ctx context.Context, limit int, f queue.Filter) ([]queue.Claimed, error)
	ClaimByIDs(ctx context.Context, ids []id.ID) ([]queue.Claimed, error)
	ListPending(ctx context.Context, f queue.Filter, limit int) ([]queue.PendingView, error)
	Ack(ctx context.Context, mid id.ID, claimID string) error
	Nack(ctx context.Context, mid id.ID, claimID, reason string) (*queue.Exhausted, error)
	PendingSignal() <-chan struct{}
}

// Handler processes one claimed batch. A nil return acks every message; an
// error triggers the per-message fallback so one poison message cannot fail
// its whole batch.
type Handler func(ctx context.Context, msgs []queue.Claimed) error

// Options configures a reactive or filtered consumer.
type Options struct {
	// BatchSize caps messages per handler invocation.
	BatchSize int
	// Filter narrows which messages are consumed. The filtered engine also
	// honors Filter.Expr; the plain engine uses Filter.Fields only.
	Filter queue.Filter
	// OnExhausted is invoked for every message dropped after its final
	// failed attempt, e.g. to dead-letter it. Optional.
	OnExhausted func(queue.Exhausted)
	Logger      log.Logger
}

func (o *Options) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
}

// consumer runs one drain goroutine at a time. hasPending records signals
// that arrive while a drain is in flight so the tail of a drain never
// misses work.
type consumer struct {
	src  Source
	opts Options
	// claim is one claim step: plain Claim for Consume, list-then-claim
	// for ConsumeFiltered.
	claim func(ctx context.Context) ([]queue.Claimed, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	processing bool
	hasPending bool
}

// Consume starts a reactive consumer: it drains immediately, then wakes on
// every pending signal. The returned stop function cancels the consumer and
// waits for the in-flight drain to finish.
func Consume(src Source, handler Handler, opts Options) (stop func()) {
	opts.normalize()
	c := newConsumer(src, opts)
	c.claim = func(ctx context.Context) ([]queue.Claimed, error) {
		return src.Claim(ctx, opts.BatchSize, queue.Filter{Fields: opts.Filter.Fields})
	}
	c.start(handler)
	return c.stop
}

// ConsumeFiltered starts a reactive consumer whose claim step lists pending
// messages through the full filter (fields and expression) and then claims
// the surviving candidates by id. Candidates claimed by somebody else
// between the list and the claim are simply not returned, so the next pass
// moves on.
func ConsumeFiltered(src Source, handler Handler, opts Options) (stop func()) {
	opts.normalize()
	c := newConsumer(src, opts)
	c.claim = func(ctx context.Context) ([]queue.Claimed, error) {
		views, err := src.ListPending(ctx, opts.Filter, opts.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(views) == 0 {
			return nil, nil
		}
		ids := make([]id.ID, 0, len(views))
		for _, v := range views {
			ids = append(ids, v.ID)
		}
		return src.ClaimByIDs(ctx, ids)
	}
	c.start(handler)
	return c.stop
}

func newConsumer(src Source, opts Options) *consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &consumer{src: src, opts: opts, ctx: ctx, cancel: cancel}
}

func (c *consumer) start(handler Handler) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Capture the signal before kicking: anything published during
			// the drain closes this channel and wakes the next iteration.
			sig := c.src.PendingSignal()
			c.kick(handler)
			select {
			case <-c.ctx.Done():
				return
			case <-sig:
			}
		}
	}()
}

func (c *consumer) stop() {
	c.cancel()
	c.wg.Wait()
}

// kick ensures a drain goroutine is running. When one already is, it only
// records that more work may exist.
func (c *consumer) kick(handler Handler) {
	c.mu.Lock()
	c.hasPending = true
	if c.processing {
		c.mu.Unlock()
		return
	}
	c.processing = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(handler)
	}()
}

// drain claims and handles batches until the queue looks empty and no
// signal arrived since the last empty claim. The hasPending recheck and the
// processing reset happen under one lock hold, which closes the window
// where a wakeup could be lost.
func (c *consumer) drain(handler Handler) {
	for {
		if c.ctx.Err() != nil {
			c.mu.Lock()
			c.processing = false
			c.mu.Unlock()
			return
		}

		claimed, err := c.claim(c.ctx)
		if err != nil {
			c.opts.Logger.Error("claim failed", log.Err(err))
			c.mu.Lock()
			c.processing = false
			c.mu.Unlock()
			return
		}
		if len(claimed) == 0 {
			c.mu.Lock()
			if !c.hasPending {
				c.processing = false
				c.mu.Unlock()
				return
			}
			c.hasPending = false
			c.mu.Unlock()
			continue
		}

		handleBatch(c.ctx, c.src, handler, claimed, c.opts)
	}
}

// handleBatch runs the handler on a batch. Success acks every message
// concurrently. Failure retries each message alone: individual successes
// ack, individual failures nack with the handler error as the reason.
func handleBatch(ctx context.Context, src Source, handler Handler, claimed []queue.Claimed, opts Options) {
	if err := handler(ctx, claimed); err == nil {
		var wg sync.WaitGroup
		for _, m := range claimed {
			wg.Add(1)
			go func(m queue.Claimed) {
				defer wg.Done()
				ackOne(ctx, src, m, opts.Logger)
			}(m)
		}
		wg.Wait()
		return
	}

	for _, m := range claimed {
		if err := handler(ctx, []queue.Claimed{m}); err != nil {
			nackOne(ctx, src, m, err.Error(), opts)
			continue
		}
		ackOne(ctx, src, m, opts.Logger)
	}
}

func ackOne(ctx context.Context, src Source, m queue.Claimed, logger log.Logger) {
	if err := src.Ack(ctx, m.ID, m.ClaimID); err != nil {
		// Typically ErrLeaseExpired after a long handler run; the message
		// is already back in pending and will be redelivered.
		logger.Warn("ack failed", log.Str("id", m.ID.String()), log.Err(err))
	}
}

func nackOne(ctx context.Context, src Source, m queue.Claimed, reason string, opts Options) {
	ex, err := src.Nack(ctx, m.ID, m.ClaimID, reason)
	if err != nil {
		opts.Logger.Warn("nack failed", log.Str("id", m.ID.String()), log.Err(err))
		return
	}
	if ex != nil && opts.OnExhausted != nil {
		opts.OnExhausted(*ex)
	}
}
