package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Chat roles.
const (
	RoleYou   = "you"
	RoleBot   = "bot"
	RoleError = "error"
)

// ChatTurn is one entry of a session's chat history.
type ChatTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Payload   string    `json:"payload,omitempty"` // JSON-encoded result for bot turns
	CreatedAt time.Time `json:"created_at"`
}

// ReindexRun records the outcome of one reindex.
type ReindexRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"` // "done", "info", "error"
	Message    string    `json:"message"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
}
