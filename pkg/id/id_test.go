package id

import (
	"sync"
	"testing"
)

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 10_000; i++ {
		next := g.Next()
		if next.Compare(prev) <= 0 {
			t.Fatalf("id %s not greater than %s", next, prev)
		}
		prev = next
	}
}

func TestGeneratorClockBackwards(t *testing.T) {
	orig := NowMs
	defer func() { NowMs = orig }()

	now := int64(5000)
	NowMs = func() int64 { return now }

	g := NewGenerator()
	a := g.Next()
	now = 4000 // clock went backwards
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("expected monotonic id despite clock regression: %s <= %s", b, a)
	}
	if b.TimeMs() != 5000 {
		t.Fatalf("expected pinned timestamp 5000, got %d", b.TimeMs())
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	orig := g.Next()
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != orig {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, orig)
	}
	if _, err := Parse("zz"); err == nil {
		t.Fatalf("expected error for malformed id")
	}
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	g := NewGenerator()
	const n = 64
	const per = 200

	var mu sync.Mutex
	seen := make(map[ID]struct{}, n*per)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]ID, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n*per {
		t.Fatalf("expected %d unique ids, got %d", n*per, len(seen))
	}
}

func TestNewTokenUnique(t *testing.T) {
	a, b := NewToken(), NewToken()
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("unexpected token length: %q %q", a, b)
	}
	if a == b {
		t.Fatalf("tokens collided")
	}
}
