package watcher

import "time"

// Health is the supervisor's view of a watcher.
type Health string

const (
	HealthStopped  Health = "stopped"
	HealthRunning  Health = "running"
	HealthDegraded Health = "degraded"
	HealthError    Health = "error"
)

// Watcher is the externally visible state of one supervised unit.
type Watcher struct {
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Health        Health     `json:"health"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	MissedChecks  int        `json:"missed_checks"`
	Ingested      int        `json:"ingested"`
	Rejected      int        `json:"rejected"`
}

// RawEvent is the unvalidated payload a watcher hands to the supervisor.
type RawEvent struct {
	SourceID      string                 `json:"source_id,omitempty"`
	Title         string                 `json:"title"`
	Category      string                 `json:"category"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ReceivedAt    *time.Time             `json:"received_at,omitempty"`
}
