package broadcast

import (
	"time"

	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/idgen"
)

// Event types streamed to subscribers.
const (
	TypeHeartbeat      = "heartbeat"
	TypePong           = "pong"
	TypeSnapshot       = "snapshot"
	TypeTaskUpdated    = "task_updated"
	TypeWatcherUpdated = "watcher_updated"
	TypeApproval       = "approval"
	TypeAudit          = "audit"
	TypeLoopState      = "loop_state"
)

// Event is one frame on the status stream.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// IsControl reports whether the event only keeps the connection alive.
func (e *Event) IsControl() bool {
	return e.Type == TypeHeartbeat || e.Type == TypePong
}

// NewEvent stamps data with a fresh id and the current time.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{ID: idgen.New(), Type: eventType, Timestamp: clock.Now().UTC(), Data: data}
}
