package audit

import "time"

// Level is the severity of an audit entry.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// IsFailure reports whether the level counts towards error rates.
func (l Level) IsFailure() bool { return l == LevelError || l == LevelCritical }

// Well-known actions.
const (
	ActionTaskIngested      = "task_ingested"
	ActionTaskComposed      = "task_composed"
	ActionIngestRejected    = "ingest_rejected"
	ActionTransition        = "task_transition"
	ActionExecutionFailed   = "execution_failed"
	ActionRetriesExhausted  = "retries_exhausted"
	ActionApprovalTimeout   = "approval_timeout"
	ActionWatcherStarted    = "watcher_started"
	ActionWatcherStopped    = "watcher_stopped"
	ActionWatcherExited     = "watcher_exited"
	ActionWatcherDegraded   = "watcher_degraded"
	ActionWatcherRecovered  = "watcher_recovered"
	ActionWatcherError      = "watcher_error"
	ActionLoopStateChanged  = "loop_state_changed"
	ActionApprovalBlocked   = "approval_blocked"
	ActionProjectionRebuilt = "projection_rebuilt"
)

// Entry is an immutable audit record. Seq is assigned by the log and breaks
// ties between entries sharing a timestamp.
type Entry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Seq           uint64                 `json:"seq"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Action        string                 `json:"action"`
	Level         Level                  `json:"level"`
	Platform      string                 `json:"platform,omitempty"`
	Actor         string                 `json:"actor"`
	TaskID        string                 `json:"task_id,omitempty"`
	DurationMs    *int64                 `json:"duration_ms,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Before orders entries causally: by timestamp, then sequence.
func (e *Entry) Before(o *Entry) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.Seq < o.Seq
}

// Detail returns a details value or nil.
func (e *Entry) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}
