package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/gergesh/convex-mq/internal/scheduler"
	pebblestore "github.com/gergesh/convex-mq/internal/storage/pebble"
	"github.com/gergesh/convex-mq/pkg/id"
	"github.com/gergesh/convex-mq/pkg/log"
)

const (
	// DefaultMaxAttempts is the delivery budget when the publisher doesn't
	// set one.
	DefaultMaxAttempts = 3
	// DefaultVisibilityTimeout bounds how long a claim stays exclusive
	// before the message is returned to pending.
	DefaultVisibilityTimeout = 30 * time.Second
)

// Options configures a Queue.
type Options struct {
	DefaultMaxAttempts       int
	DefaultVisibilityTimeout time.Duration
	Logger                   log.Logger
	Metrics                  Metrics
}

func (o *Options) normalize() {
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = DefaultMaxAttempts
	}
	if o.DefaultVisibilityTimeout <= 0 {
		o.DefaultVisibilityTimeout = DefaultVisibilityTimeout
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics{}
	}
}

// Queue is a named lease-based message queue backed by a shared Pebble
// store. All protocol operations serialize on the queue mutex; each
// operation commits exactly one batch, so a crash between operations never
// leaves a row and its index entries disagreeing.
type Queue struct {
	name    string
	db      *pebblestore.DB
	sched   *scheduler.Scheduler
	gen     *id.Generator
	logger  log.Logger
	metrics Metrics

	defaultMaxAttempts int
	defaultVisibility  time.Duration

	mu       sync.Mutex
	notifyCh chan struct{}
}

// Open binds a Queue to its keyspace. Queues need no creation step; a queue
// exists exactly as long as it has rows.
func Open(db *pebblestore.DB, sched *scheduler.Scheduler, name string, opts Options) (*Queue, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	opts.normalize()
	return &Queue{
		name:               name,
		db:                 db,
		sched:              sched,
		gen:                id.NewGenerator(),
		logger:             opts.Logger.With(log.Component("queue"), log.Str("queue", name)),
		metrics:            opts.Metrics,
		defaultMaxAttempts: opts.DefaultMaxAttempts,
		defaultVisibility:  opts.DefaultVisibilityTimeout,
		notifyCh:           make(chan struct{}),
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// PendingSignal returns a channel that is closed the next time a message
// becomes pending (publish, nack back to pending, or visibility-timeout
// reclaim). Callers re-acquire the channel after each close.
func (q *Queue) PendingSignal() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notifyCh
}

// notifyPending wakes PendingSignal waiters. Caller must hold q.mu.
func (q *Queue) notifyPending() {
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// PublishOptions overrides per-message delivery settings.
type PublishOptions struct {
	// Fields is the exact-match predicate-fields map the message is
	// indexed under. Nil publishes an unfiltered message.
	Fields map[string]string
	// MaxAttempts caps deliveries before the message is exhausted.
	// Zero uses the queue default.
	MaxAttempts int
	// VisibilityTimeout bounds each claim. Zero uses the queue default.
	VisibilityTimeout time.Duration
}

// Publish appends a message in pending state and returns its id.
func (q *Queue) Publish(ctx context.Context, payload json.RawMessage, opts *PublishOptions) (id.ID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.publishLocked(ctx, payload, opts)
}

// PublishBatch appends messages in argument order. Inserts are independent:
// on a storage fault the ids committed so far are returned alongside the
// error, and those messages stay published.
func (q *Queue) PublishBatch(ctx context.Context, payloads []json.RawMessage, opts *PublishOptions) ([]id.ID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]id.ID, 0, len(payloads))
	for _, p := range payloads {
		mid, err := q.publishLocked(ctx, p, opts)
		if err != nil {
			return ids, err
		}
		ids = append(ids, mid)
	}
	return ids, nil
}

func (q *Queue) publishLocked(ctx context.Context, payload json.RawMessage, opts *PublishOptions) (id.ID, error) {
	if opts == nil {
		opts = &PublishOptions{}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = q.defaultVisibility
	}

	mid := q.gen.Next()
	m := &Message{
		ID:                  mid,
		Payload:             payload,
		Fields:              opts.Fields,
		Status:              StatusPending,
		Attempts:            0,
		MaxAttempts:         maxAttempts,
		VisibilityTimeoutMs: visibility.Milliseconds(),
		PublishedAtMs:       id.NowMs(),
	}
	row, err := encodeMessage(m)
	if err != nil {
		return id.ID{}, err
	}

	b := q.db.NewBatch()
	_ = b.Set(msgKey(q.name, mid), row, nil)
	_ = b.Set(pendingKey(q.name, mid), nil, nil)
	if fp := fingerprint(m.Fields); fp != "" {
		_ = b.Set(pendingFieldsKey(q.name, fp, mid), nil, nil)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return id.ID{}, fmt.Errorf("publish %s: %w", mid, err)
	}

	q.metrics.IncPublished(q.name, 1)
	q.notifyPending()
	return mid, nil
}

// Peek reports whether at least one pending message matches the filter's
// fields. It reads at most one index key and never touches message rows,
// so Filter.Expr is not consulted.
func (q *Queue) Peek(ctx context.Context, f Filter) (bool, error) {
	var lo []byte
	if fp := fingerprint(f.Fields); fp != "" {
		lo = pendingFieldsPrefix(q.name, fp)
	} else {
		lo = pendingPrefix(q.name)
	}
	ok, err := q.db.HasPrefix(lo, upperBound(lo))
	if err != nil {
		return false, fmt.Errorf("peek: %w", err)
	}
	return ok, nil
}

// Claim leases up to limit pending messages in insertion order. Each
// returned message carries a fresh claim token and an armed visibility
// timer. An empty result means nothing matched.
func (q *Queue) Claim(ctx context.Context, limit int, f Filter) ([]Claimed, error) {
	if limit <= 0 {
		limit = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var lo []byte
	if fp := fingerprint(f.Fields); fp != "" {
		lo = pendingFieldsPrefix(q.name, fp)
	} else {
		lo = pendingPrefix(q.name)
	}
	it, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: upperBound(lo)})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer it.Close()

	var claimed []Claimed
	for ok := it.First(); ok && len(claimed) < limit; ok = it.Next() {
		mid, ok2 := idFromKey(it.Key())
		if !ok2 {
			continue
		}
		c, err := q.claimOneLocked(ctx, mid)
		if err != nil {
			return claimed, err
		}
		if c != nil {
			claimed = append(claimed, *c)
		}
	}
	if n := len(claimed); n > 0 {
		q.metrics.IncClaimed(q.name, n)
	}
	return claimed, nil
}

// ClaimByIDs leases the given messages where still possible. Missing or
// already-claimed ids are skipped, not errors; the caller learns what it
// actually got from the result.
func (q *Queue) ClaimByIDs(ctx context.Context, ids []id.ID) ([]Claimed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var claimed []Claimed
	for _, mid := range ids {
		c, err := q.claimOneLocked(ctx, mid)
		if err != nil {
			return claimed, err
		}
		if c != nil {
			claimed = append(claimed, *c)
		}
	}
	if n := len(claimed); n > 0 {
		q.metrics.IncClaimed(q.name, n)
	}
	return claimed, nil
}

// claimOneLocked transitions a single message pending -> claimed as one
// committed batch, then arms its reclaim timer. Returns (nil, nil) when the
// message is gone or not pending. Caller must hold q.mu.
func (q *Queue) claimOneLocked(ctx context.Context, mid id.ID) (*Claimed, error) {
	raw, err := q.db.Get(msgKey(q.name, mid))
	if err != nil {
		if err == pebblestore.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("claim %s: %w", mid, err)
	}
	m, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return nil, nil
	}

	token := id.NewToken()
	m.Status = StatusClaimed
	m.ClaimID = token
	m.Attempts++

	row, err := encodeMessage(m)
	if err != nil {
		return nil, err
	}
	b := q.db.NewBatch()
	_ = b.Set(msgKey(q.name, mid), row, nil)
	_ = b.Delete(pendingKey(q.name, mid), nil)
	if fp := fingerprint(m.Fields); fp != "" {
		_ = b.Delete(pendingFieldsKey(q.name, fp, mid), nil)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("claim %s: %w", mid, err)
	}

	// Arm only after the lease is durable. The timer fences on the token,
	// so a stale timer from an earlier claim can never touch this lease.
	timeout := time.Duration(m.VisibilityTimeoutMs) * time.Millisecond
	q.sched.Schedule(timeout, func() { q.reclaim(mid, token) })

	return &Claimed{
		ID:       mid,
		ClaimID:  token,
		Payload:  m.Payload,
		Fields:   m.Fields,
		Attempts: m.Attempts,
	}, nil
}

// Ack completes a delivery and deletes the message. The claim token must
// match the live claim: ErrNotFound if the message is gone, ErrInvalidState
// if it is pending, ErrLeaseExpired if the token was superseded.
func (q *Queue) Ack(ctx context.Context, mid id.ID, claimID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.loadClaimedLocked(mid, claimID); err != nil {
		return err
	}

	b := q.db.NewBatch()
	_ = b.Delete(msgKey(q.name, mid), nil)
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("ack %s: %w", mid, err)
	}
	q.metrics.IncAcked(q.name)
	return nil
}

// Nack reports a failed delivery. While attempts remain the message returns
// to pending and waiters are signaled; on the final attempt it is deleted
// and its terminal record is returned for dead-lettering. Token checks
// match Ack.
func (q *Queue) Nack(ctx context.Context, mid id.ID, claimID, reason string) (*Exhausted, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.loadClaimedLocked(mid, claimID)
	if err != nil {
		return nil, err
	}

	if m.Attempts >= m.MaxAttempts {
		b := q.db.NewBatch()
		_ = b.Delete(msgKey(q.name, mid), nil)
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("nack %s: %w", mid, err)
		}
		q.metrics.IncExhausted(q.name)
		q.logger.Info("message exhausted",
			log.Str("id", mid.String()),
			log.Int("attempts", m.Attempts),
			log.Str("reason", reason))
		return &Exhausted{ID: mid, Payload: m.Payload, Attempts: m.Attempts, Reason: reason}, nil
	}

	m.Status = StatusPending
	m.ClaimID = ""
	if err := q.commitPendingLocked(ctx, m); err != nil {
		return nil, fmt.Errorf("nack %s: %w", mid, err)
	}
	q.metrics.IncNacked(q.name)
	q.notifyPending()
	return nil, nil
}

// loadClaimedLocked loads a message and verifies the caller holds its live
// claim. Caller must hold q.mu.
func (q *Queue) loadClaimedLocked(mid id.ID, claimID string) (*Message, error) {
	raw, err := q.db.Get(msgKey(q.name, mid))
	if err != nil {
		if err == pebblestore.ErrNotFound {
			return nil, fmt.Errorf("message %s: %w", mid, ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", mid, err)
	}
	m, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusClaimed {
		return nil, fmt.Errorf("message %s: %w", mid, ErrInvalidState)
	}
	if m.ClaimID != claimID {
		return nil, fmt.Errorf("message %s: %w", mid, ErrLeaseExpired)
	}
	return m, nil
}

// commitPendingLocked writes a pending row plus its index entries as one
// batch. Caller must hold q.mu.
func (q *Queue) commitPendingLocked(ctx context.Context, m *Message) error {
	row, err := encodeMessage(m)
	if err != nil {
		return err
	}
	b := q.db.NewBatch()
	_ = b.Set(msgKey(q.name, m.ID), row, nil)
	_ = b.Set(pendingKey(q.name, m.ID), nil, nil)
	if fp := fingerprint(m.Fields); fp != "" {
		_ = b.Set(pendingFieldsKey(q.name, fp, m.ID), nil, nil)
	}
	return q.db.CommitBatch(ctx, b)
}

// reclaim is the visibility-timeout callback. It returns the message to
// pending only when the armed token still holds the claim; an ack, nack or
// later re-claim makes it a no-op. Reclaim never deletes a message and
// never consults MaxAttempts, so a slow consumer alone cannot exhaust a
// message.
func (q *Queue) reclaim(mid id.ID, token string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, err := q.db.Get(msgKey(q.name, mid))
	if err != nil {
		if err != pebblestore.ErrNotFound {
			q.logger.Error("reclaim load failed", log.Str("id", mid.String()), log.Err(err))
		}
		return
	}
	m, err := decodeMessage(raw)
	if err != nil {
		q.logger.Error("reclaim decode failed", log.Str("id", mid.String()), log.Err(err))
		return
	}
	if m.Status != StatusClaimed || m.ClaimID != token {
		return
	}

	m.Status = StatusPending
	m.ClaimID = ""
	if err := q.commitPendingLocked(context.Background(), m); err != nil {
		q.logger.Error("reclaim commit failed", log.Str("id", mid.String()), log.Err(err))
		return
	}
	q.metrics.IncReclaimed(q.name)
	q.logger.Debug("lease expired, message reclaimed",
		log.Str("id", mid.String()), log.Int("attempts", m.Attempts))
	q.notifyPending()
}

// ListPending returns read-only views of pending messages in insertion
// order, up to limit. Filter.Fields narrows via the fingerprint index;
// Filter.Expr post-filters loaded rows.
func (q *Queue) ListPending(ctx context.Context, f Filter, limit int) ([]PendingView, error) {
	if limit <= 0 {
		limit = 100
	}
	expr, err := newExprFilter(f.Expr)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	var lo []byte
	if fp := fingerprint(f.Fields); fp != "" {
		lo = pendingFieldsPrefix(q.name, fp)
	} else {
		lo = pendingPrefix(q.name)
	}
	it, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: upperBound(lo)})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer it.Close()

	var views []PendingView
	for ok := it.First(); ok && len(views) < limit; ok = it.Next() {
		mid, ok2 := idFromKey(it.Key())
		if !ok2 {
			continue
		}
		raw, err := q.db.Get(msgKey(q.name, mid))
		if err != nil {
			if err == pebblestore.ErrNotFound {
				continue
			}
			return views, fmt.Errorf("list pending: %w", err)
		}
		m, err := decodeMessage(raw)
		if err != nil {
			return views, err
		}
		if m.Status != StatusPending || !expr.Eval(m) {
			continue
		}
		views = append(views, PendingView{
			ID:       mid,
			Payload:  m.Payload,
			Fields:   m.Fields,
			Attempts: m.Attempts,
		})
	}
	return views, nil
}

// RestoreLeases re-arms visibility timers for leases that were live when
// the process last stopped. Claim start times are not stored, so each
// restored lease gets its full timeout from now; a holder that finished in
// the meantime is fenced out by its token as usual. Returns the number of
// leases re-armed.
func (q *Queue) RestoreLeases(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lo := msgPrefix(q.name)
	it, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: upperBound(lo)})
	if err != nil {
		return 0, fmt.Errorf("restore leases: %w", err)
	}
	defer it.Close()

	restored := 0
	for ok := it.First(); ok; ok = it.Next() {
		m, err := decodeMessage(it.Value())
		if err != nil {
			return restored, err
		}
		if m.Status != StatusClaimed {
			continue
		}
		mid, token := m.ID, m.ClaimID
		timeout := time.Duration(m.VisibilityTimeoutMs) * time.Millisecond
		q.sched.Schedule(timeout, func() { q.reclaim(mid, token) })
		restored++
	}
	if restored > 0 {
		q.logger.Info("restored leases", log.Int("count", restored))
	}
	return restored, nil
}

// Stats scans the queue's rows and counts messages by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	lo := msgPrefix(q.name)
	it, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: upperBound(lo)})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer it.Close()

	var st Stats
	for ok := it.First(); ok; ok = it.Next() {
		m, err := decodeMessage(it.Value())
		if err != nil {
			return st, err
		}
		switch m.Status {
		case StatusClaimed:
			st.Claimed++
		default:
			st.Pending++
		}
	}
	return st, nil
}
