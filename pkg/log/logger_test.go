package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithLevel(WarnLevel),
		WithFormatter(&TextFormatter{}),
		WithOutput(&ConsoleOutput{W: &buf}),
	)
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("kept as well")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("low-severity entries leaked: %q", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "kept as well") {
		t.Fatalf("expected warn and error entries, got %q", out)
	}
}

func TestJSONFormatterFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&JSONFormatter{}),
		WithOutput(&ConsoleOutput{W: &buf}),
	)
	logger.With(Component("queue")).Info("claimed", Int("count", 3), Str("queue", "jobs"))

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal json line: %v", err)
	}
	if obj["msg"] != "claimed" || obj["level"] != "INFO" {
		t.Fatalf("unexpected entry: %v", obj)
	}
	if obj["component"] != "queue" || obj["queue"] != "jobs" {
		t.Fatalf("fields missing: %v", obj)
	}
	if obj["count"] != float64(3) {
		t.Fatalf("count field: %v", obj["count"])
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(WithFormatter(&TextFormatter{}), WithOutput(&ConsoleOutput{W: &buf}))
	_ = parent.With(Str("child", "only"))
	parent.Info("plain")
	if strings.Contains(buf.String(), "child=only") {
		t.Fatalf("child fields leaked into parent: %q", buf.String())
	}
}

func TestWithChildrenShareOutputLock(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(WithFormatter(&TextFormatter{}), WithOutput(&ConsoleOutput{W: &buf}))
	child := parent.With(Str("side", "child"))

	// bytes.Buffer is not safe for concurrent writers; this only passes
	// with the race detector when the shared Output serializes the tree.
	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			parent.Info("parent line")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			child.Info("child line")
		}
	}()
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2*n {
		t.Fatalf("expected %d lines, got %d", 2*n, len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "parent line") && !strings.Contains(line, "child line") {
			t.Fatalf("interleaved line: %q", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel, "": InfoLevel}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
