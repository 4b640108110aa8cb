package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	cfgpkg "github.com/gergesh/convex-mq/internal/config"
	"github.com/gergesh/convex-mq/internal/runtime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	s := New(rt, ":0", nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = rt.Close()
	})
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func TestPublishClaimAckRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	code, out := doJSON(t, ts, http.MethodPost, "/v1/queues/orders/publish", map[string]any{
		"payload": map[string]any{"order": 42},
	})
	if code != http.StatusOK || out["id"] == "" {
		t.Fatalf("publish: %d %v", code, out)
	}

	code, out = doJSON(t, ts, http.MethodPost, "/v1/queues/orders/claim", map[string]any{"limit": 1})
	if code != http.StatusOK {
		t.Fatalf("claim: %d %v", code, out)
	}
	msgs := out["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("claimed %d messages", len(msgs))
	}
	msg := msgs[0].(map[string]any)
	mid, claimID := msg["id"].(string), msg["claimId"].(string)
	if mid == "" || claimID == "" {
		t.Fatalf("claim response missing lease: %v", msg)
	}

	// Wrong token is fenced.
	code, _ = doJSON(t, ts, http.MethodPost, "/v1/queues/orders/ack", map[string]any{
		"id": mid, "claimId": "0123456789abcdef0123456789abcdef",
	})
	if code != http.StatusGone {
		t.Fatalf("stale ack: %d, want 410", code)
	}

	code, _ = doJSON(t, ts, http.MethodPost, "/v1/queues/orders/ack", map[string]any{
		"id": mid, "claimId": claimID,
	})
	if code != http.StatusNoContent {
		t.Fatalf("ack: %d, want 204", code)
	}

	// Already deleted.
	code, _ = doJSON(t, ts, http.MethodPost, "/v1/queues/orders/ack", map[string]any{
		"id": mid, "claimId": claimID,
	})
	if code != http.StatusNotFound {
		t.Fatalf("double ack: %d, want 404", code)
	}
}

func TestAckPendingConflicts(t *testing.T) {
	ts := newTestServer(t)

	_, out := doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/publish", map[string]any{"payload": 1})
	mid := out["id"].(string)

	code, _ := doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/ack", map[string]any{
		"id": mid, "claimId": "anything",
	})
	if code != http.StatusConflict {
		t.Fatalf("ack pending: %d, want 409", code)
	}
}

func TestInvalidQueueNameRejected(t *testing.T) {
	ts := newTestServer(t)
	code, _ := doJSON(t, ts, http.MethodPost, "/v1/queues/bad%20name/publish", map[string]any{"payload": 1})
	if code != http.StatusBadRequest {
		t.Fatalf("bad queue name: %d, want 400", code)
	}
}

func TestNackToExhaustion(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/publish", map[string]any{
		"payload": "p", "maxAttempts": 1,
	})
	_, out := doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/claim", nil)
	msg := out["messages"].([]any)[0].(map[string]any)

	code, out := doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/nack", map[string]any{
		"id": msg["id"], "claimId": msg["claimId"], "reason": "broken",
	})
	if code != http.StatusOK {
		t.Fatalf("nack: %d %v", code, out)
	}
	ex, ok := out["exhausted"].(map[string]any)
	if !ok {
		t.Fatalf("single-attempt nack did not exhaust: %v", out)
	}
	if ex["reason"] != "broken" || ex["attempts"].(float64) != 1 {
		t.Fatalf("exhausted record: %v", ex)
	}
}

func TestPeekPendingAndStats(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		doJSON(t, ts, http.MethodPost, "/v1/queues/mail/publish", map[string]any{
			"payload": map[string]any{"n": i},
			"fields":  map[string]string{"tenant": "acme"},
		})
	}

	code, out := doJSON(t, ts, http.MethodGet, "/v1/queues/mail/peek?f.tenant=acme", nil)
	if code != http.StatusOK || out["pending"] != true {
		t.Fatalf("peek match: %d %v", code, out)
	}
	code, out = doJSON(t, ts, http.MethodGet, "/v1/queues/mail/peek?f.tenant=other", nil)
	if code != http.StatusOK || out["pending"] != false {
		t.Fatalf("peek miss: %d %v", code, out)
	}

	code, out = doJSON(t, ts, http.MethodGet, "/v1/queues/mail/pending?f.tenant=acme&expr="+"payload.n+%3E%3D+2.0", nil)
	if code != http.StatusOK {
		t.Fatalf("pending: %d %v", code, out)
	}
	if msgs := out["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("expr filter returned %d messages", len(msgs))
	}

	doJSON(t, ts, http.MethodPost, "/v1/queues/mail/claim", map[string]any{"limit": 1})
	code, out = doJSON(t, ts, http.MethodGet, "/v1/queues/mail/stats", nil)
	if code != http.StatusOK {
		t.Fatalf("stats: %d %v", code, out)
	}
	if out["pending"].(float64) != 2 || out["claimed"].(float64) != 1 {
		t.Fatalf("stats: %v", out)
	}

	code, out = doJSON(t, ts, http.MethodGet, "/v1/queues", nil)
	if code != http.StatusOK {
		t.Fatalf("queues: %d %v", code, out)
	}
	if qs := out["queues"].([]any); len(qs) != 1 || qs[0] != "mail" {
		t.Fatalf("queues: %v", out)
	}
}

func TestPublishBatchAndClaimByIDs(t *testing.T) {
	ts := newTestServer(t)

	payloads := []any{1, 2, 3}
	code, out := doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/publish-batch", map[string]any{
		"payloads": payloads,
	})
	if code != http.StatusOK {
		t.Fatalf("publish batch: %d %v", code, out)
	}
	rawIDs := out["ids"].([]any)
	if len(rawIDs) != 3 {
		t.Fatalf("batch returned %d ids", len(rawIDs))
	}

	ids := []any{rawIDs[0], rawIDs[2], "00000000000000000000000000000000"}
	code, out = doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/claim-ids", map[string]any{"ids": ids})
	if code != http.StatusOK {
		t.Fatalf("claim by ids: %d %v", code, out)
	}
	if msgs := out["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("claim by ids returned %d messages", len(msgs))
	}

	code, _ = doJSON(t, ts, http.MethodPost, "/v1/queues/jobs/claim-ids", map[string]any{
		"ids": []any{"not-hex"},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("malformed id: %d, want 400", code)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, out := doJSON(t, ts, http.MethodGet, "/v1/healthz", nil)
	if code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz: %d %v", code, out)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Post(ts.URL+"/v1/queues/jobs/publish", "application/json",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: %d, want 400", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fmt.Sprint(out["error"]) == "" {
		t.Fatal("error body missing message")
	}
}
