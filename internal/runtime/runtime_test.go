package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cfgpkg "github.com/gergesh/convex-mq/internal/config"
	"github.com/gergesh/convex-mq/internal/queue"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	return cfg
}

func TestOpenQueueCaches(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	q1, err := rt.OpenQueue("orders")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	q2, err := rt.OpenQueue("orders")
	if err != nil {
		t.Fatalf("open queue again: %v", err)
	}
	if q1 != q2 {
		t.Fatal("queue registry returned a new instance for a cached name")
	}

	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestQueuesDiscovery(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	for _, name := range []string{"alpha", "beta"} {
		q, err := rt.OpenQueue(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if _, err := q.Publish(context.Background(), json.RawMessage(`{}`), nil); err != nil {
			t.Fatalf("publish %s: %v", name, err)
		}
	}

	names, err := rt.Queues()
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("queues: %v", names)
	}
}

func TestRestoreLeasesAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueDefaults.VisibilityTimeoutMs = 30

	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	q, err := rt.OpenQueue("orders")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	if _, err := q.Publish(context.Background(), json.RawMessage(`{"job":1}`), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	claimed, err := q.Claim(context.Background(), 1, queue.Filter{})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	// Simulate a crash while the lease is live.
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt2.Close()
	if err := rt2.RestoreLeases(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	q2, err := rt2.OpenQueue("orders")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		again, err := q2.Claim(context.Background(), 1, queue.Filter{})
		if err != nil {
			t.Fatalf("re-claim: %v", err)
		}
		if len(again) == 1 {
			if again[0].Attempts != 2 {
				t.Fatalf("restored re-claim Attempts = %d, want 2", again[0].Attempts)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("restored lease never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
