package history

import (
	"context"
	"time"
)

// EventType defines the kind of session event.
type EventType string

const (
	EventSpawn   EventType = "spawn"
	EventRestart EventType = "restart"
	EventEnd     EventType = "end"
)

// Event is one row of a supervised session's history.
type Event struct {
	SessionID  string    `json:"session_id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Gen        uint64    `json:"gen"`
	PID        int       `json:"pid,omitempty"`
	Port       int       `json:"port,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
}

// Sink is a destination for session events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
