package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viant/overseer/model/task"
)

var (
	// ErrNotPending is returned when deciding on an item that is unknown or
	// already being decided.
	ErrNotPending = errors.New("approval: item not pending")

	// ErrApprovalTimeout marks an item that waited longer than the configured
	// timeout. It is only ever escalated, never used to reject.
	ErrApprovalTimeout = errors.New("approval: timeout")

	// ErrBlockedByPolicy is returned when the category policy denies a draft.
	ErrBlockedByPolicy = errors.New("approval: blocked by policy")

	// ErrNoHook is returned when no execution hook is registered for a send
	// class category.
	ErrNoHook = errors.New("approval: no execution hook")

	// ErrInterrupted is recorded for an approved task whose execution did
	// not finish before the process stopped.
	ErrInterrupted = errors.New("approval: execution interrupted")
)

// TransientExecutionError wraps a hook failure that is eligible for retry.
type TransientExecutionError struct {
	Category task.Category
	Attempt  int
	Err      error
}

func (e *TransientExecutionError) Error() string {
	return fmt.Sprintf("%s execution attempt %d failed: %v", e.Category, e.Attempt, e.Err)
}

func (e *TransientExecutionError) Unwrap() error { return e.Err }

// Item is a task waiting for, or carrying, an approval decision.
type Item struct {
	TaskID           string        `json:"task_id"`
	CorrelationID    string        `json:"correlation_id"`
	Title            string        `json:"title"`
	Category         task.Category `json:"category"`
	Draft            *task.Draft   `json:"draft"`
	CharLimit        int           `json:"char_limit,omitempty"`
	RequiresApproval bool          `json:"requires_approval"`
	AutoApproved     bool          `json:"auto_approved"`
	EnqueuedAt       time.Time     `json:"enqueued_at"`
	Escalated        bool          `json:"escalated"`
	ApprovedBy       string        `json:"approved_by,omitempty"`
	DecisionAt       *time.Time    `json:"decision_at,omitempty"`
	Attempts         int           `json:"attempts"`
	Result           *Result       `json:"result,omitempty"`

	deciding bool
}

func (i *Item) clone() *Item {
	ret := *i
	ret.Draft = i.Draft.Clone()
	if i.Result != nil {
		result := *i.Result
		ret.Result = &result
	}
	return &ret
}

// Result describes a completed external action.
type Result struct {
	Summary    string `json:"summary"`
	ExternalID string `json:"external_id,omitempty"`
}

// Hook performs the irreversible external action for one category.
type Hook interface {
	Execute(ctx context.Context, item *Item) (*Result, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, item *Item) (*Result, error)

// Execute implements Hook.
func (f HookFunc) Execute(ctx context.Context, item *Item) (*Result, error) { return f(ctx, item) }

// Event kinds passed to listeners.
const (
	EventEnqueued  = "approval.enqueued"
	EventApproved  = "approval.approved"
	EventRejected  = "approval.rejected"
	EventExecuted  = "approval.executed"
	EventFailed    = "approval.failed"
	EventEscalated = "approval.escalated"
)

// Listener observes gate activity.
type Listener func(kind string, item *Item)
