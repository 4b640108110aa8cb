package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/pkg/log"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the protocol's error taxonomy onto status codes: missing
// messages are 404, acks against pending messages are 409, superseded claim
// tokens are 410, everything else is a store fault.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrLeaseExpired):
		status = http.StatusGone
	case errors.Is(err, queue.ErrInvalidName):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", log.Err(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody parses a JSON request body, replying 400 on malformed input.
// An empty body leaves the target at its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	err := json.NewDecoder(r.Body).Decode(into)
	if err == io.EOF {
		return true
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
