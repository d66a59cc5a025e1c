package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWatcher is returned for names outside the configured set.
	ErrUnknownWatcher = errors.New("watcher: unknown watcher")

	// ErrInvalidEvent is returned by Ingest when a raw event fails validation.
	ErrInvalidEvent = errors.New("watcher: invalid event")

	// ErrInErrorState is returned by Start while a watcher sits in error; it
	// has to be stopped first.
	ErrInErrorState = errors.New("watcher: in error state")
)

// PermanentConfigError marks a failure that retrying cannot fix, such as a
// missing credential. The watcher moves to error.
type PermanentConfigError struct {
	Watcher string
	Err     error
}

func (e *PermanentConfigError) Error() string {
	return fmt.Sprintf("watcher %s: permanent config error: %v", e.Watcher, e.Err)
}

func (e *PermanentConfigError) Unwrap() error { return e.Err }
