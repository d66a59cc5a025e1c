package task

import "errors"

// Lifecycle errors. Callers detect them with errors.Is; the returned errors
// wrap these sentinels with task context.
var (
	// ErrInvalidTransition is returned for an edge that is not in the
	// lifecycle table, including any edge out of a terminal state.
	ErrInvalidTransition = errors.New("task: invalid transition")

	// ErrMissingRequiredNote is returned when the target state requires a note
	// and none was supplied.
	ErrMissingRequiredNote = errors.New("task: missing required note")

	// ErrConcurrencyConflict is returned to the loser of a race on the same
	// task. The task is left untouched.
	ErrConcurrencyConflict = errors.New("task: concurrency conflict")

	// ErrInvalidDraft is returned when a draft payload fails validation.
	ErrInvalidDraft = errors.New("task: invalid draft")
)
