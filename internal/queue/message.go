package queue

import (
	"encoding/json"
	"fmt"

	"github.com/gergesh/convex-mq/pkg/id"
)

// Status is the lifecycle state of a stored message.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
)

// Message is the durable row stored at q/{queue}/msg/{id}.
type Message struct {
	ID                  id.ID             `json:"id"`
	Payload             json.RawMessage   `json:"payload"`
	Fields              map[string]string `json:"fields,omitempty"`
	Status              Status            `json:"status"`
	Attempts            int               `json:"attempts"`
	MaxAttempts         int               `json:"maxAttempts"`
	VisibilityTimeoutMs int64             `json:"visibilityTimeoutMs"`
	ClaimID             string            `json:"claimId,omitempty"`
	PublishedAtMs       int64             `json:"publishedAtMs"`
}

func encodeMessage(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message row: %w", err)
	}
	return &m, nil
}

// Claimed is a message handed to a consumer together with its lease token.
type Claimed struct {
	ID       id.ID             `json:"id"`
	ClaimID  string            `json:"claimId"`
	Payload  json.RawMessage   `json:"payload"`
	Fields   map[string]string `json:"fields,omitempty"`
	Attempts int               `json:"attempts"`
}

// Exhausted describes a message removed after its final failed attempt.
type Exhausted struct {
	ID       id.ID           `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	Reason   string          `json:"reason,omitempty"`
}

// PendingView is a read-only projection of a pending message, as returned
// by ListPending. It carries no lease token.
type PendingView struct {
	ID       id.ID             `json:"id"`
	Payload  json.RawMessage   `json:"payload"`
	Fields   map[string]string `json:"fields,omitempty"`
	Attempts int               `json:"attempts"`
}

// Stats is a point-in-time census of a queue.
type Stats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
}
