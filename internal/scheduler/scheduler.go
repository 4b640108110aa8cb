package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs one-shot callbacks after a delay. It exists so the queue can
// arm lease-expiry reclaims without owning timer bookkeeping, and so tests
// and shutdown can cancel everything that is still armed.
type Scheduler struct {
	mu     sync.Mutex
	next   uint64
	timers map[uint64]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*time.Timer)}
}

// Schedule arms fn to run once after delay and returns a cancel function.
// Cancel is a no-op if the callback already started. A callback scheduled
// with non-positive delay still runs asynchronously, never inline.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (cancel func()) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	handle := s.next
	s.next++
	s.wg.Add(1)

	t := time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		_, armed := s.timers[handle]
		delete(s.timers, handle)
		closed := s.closed
		s.mu.Unlock()
		if !armed || closed {
			return
		}
		fn()
	})
	s.timers[handle] = t
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		t, ok := s.timers[handle]
		if ok {
			delete(s.timers, handle)
		}
		s.mu.Unlock()
		if ok && t.Stop() {
			s.wg.Done()
		}
	}
}

// Pending returns the number of armed callbacks. Test hook.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels all armed callbacks and waits for running ones to finish.
// Further Schedule calls are no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stopped := make([]*time.Timer, 0, len(s.timers))
	for h, t := range s.timers {
		delete(s.timers, h)
		stopped = append(stopped, t)
	}
	s.mu.Unlock()

	for _, t := range stopped {
		if t.Stop() {
			s.wg.Done()
		}
	}
	s.wg.Wait()
}
