package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gergesh/convex-mq/internal/metrics"
	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/pkg/id"
	"github.com/gergesh/convex-mq/pkg/log"
)

func (s *Server) openQueue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	name := chi.URLParam(r, "queue")
	q, err := s.rt.OpenQueue(name)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return q, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	names, err := s.rt.Queues()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"queues": names})
}

type publishRequest struct {
	Payload             json.RawMessage   `json:"payload"`
	Fields              map[string]string `json:"fields,omitempty"`
	MaxAttempts         int               `json:"maxAttempts,omitempty"`
	VisibilityTimeoutMs int64             `json:"visibilityTimeoutMs,omitempty"`
}

func (r publishRequest) options() *queue.PublishOptions {
	return &queue.PublishOptions{
		Fields:            r.Fields,
		MaxAttempts:       r.MaxAttempts,
		VisibilityTimeout: time.Duration(r.VisibilityTimeoutMs) * time.Millisecond,
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mid, err := q.Publish(r.Context(), req.Payload, req.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": mid.String()})
}

type publishBatchRequest struct {
	Payloads            []json.RawMessage `json:"payloads"`
	Fields              map[string]string `json:"fields,omitempty"`
	MaxAttempts         int               `json:"maxAttempts,omitempty"`
	VisibilityTimeoutMs int64             `json:"visibilityTimeoutMs,omitempty"`
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req publishBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts := publishRequest{
		Fields:              req.Fields,
		MaxAttempts:         req.MaxAttempts,
		VisibilityTimeoutMs: req.VisibilityTimeoutMs,
	}.options()
	ids, err := q.PublishBatch(r.Context(), req.Payloads, opts)
	if err != nil {
		// Inserts before the fault stayed published; report them so the
		// caller does not re-publish blindly.
		s.logger.Error("publish batch failed", log.Str("queue", q.Name()), log.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"ids":   idStrings(ids),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": idStrings(ids)})
}

type claimRequest struct {
	Limit  int               `json:"limit,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	claimed, err := q.Claim(r.Context(), req.Limit, queue.Filter{Fields: req.Fields})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimedResponse(claimed))
}

type claimByIDsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleClaimByIDs(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req claimByIDsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids := make([]id.ID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		mid, err := id.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id: " + raw})
			return
		}
		ids = append(ids, mid)
	}
	claimed, err := q.ClaimByIDs(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimedResponse(claimed))
}

type ackRequest struct {
	ID      string `json:"id"`
	ClaimID string `json:"claimId"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req ackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mid, err := id.Parse(req.ID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id: " + req.ID})
		return
	}
	if err := q.Ack(r.Context(), mid, req.ClaimID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nackRequest struct {
	ID      string `json:"id"`
	ClaimID string `json:"claimId"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleNack(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	var req nackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mid, err := id.Parse(req.ID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id: " + req.ID})
		return
	}
	ex, err := q.Nack(r.Context(), mid, req.ClaimID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exhausted": ex})
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	pending, err := q.Peek(r.Context(), queue.Filter{Fields: queryFields(r.URL.Query())})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pending": pending})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	qs := r.URL.Query()
	limit, _ := strconv.Atoi(qs.Get("limit"))
	f := queue.Filter{Fields: queryFields(qs), Expr: qs.Get("expr")}
	views, err := q.ListPending(r.Context(), f, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if views == nil {
		views = []queue.PendingView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q, ok := s.openQueue(w, r)
	if !ok {
		return
	}
	st, err := q.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.SetQueueDepth(q.Name(), st.Pending, st.Claimed)
	writeJSON(w, http.StatusOK, st)
}

// queryFields collects predicate fields from f.-prefixed query parameters,
// e.g. ?f.tenant=acme&f.kind=email.
func queryFields(qs url.Values) map[string]string {
	var fields map[string]string
	for key, vals := range qs {
		if !strings.HasPrefix(key, "f.") || len(vals) == 0 {
			continue
		}
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[strings.TrimPrefix(key, "f.")] = vals[0]
	}
	return fields
}

func claimedResponse(claimed []queue.Claimed) map[string]any {
	if claimed == nil {
		claimed = []queue.Claimed{}
	}
	return map[string]any{"messages": claimed}
}

func idStrings(ids []id.ID) []string {
	out := make([]string, 0, len(ids))
	for _, mid := range ids {
		out = append(out, mid.String())
	}
	return out
}
