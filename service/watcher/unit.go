package watcher

import (
	"context"

	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
)

// Sink is handed to a running unit.
type Sink interface {
	// Heartbeat marks the unit alive.
	Heartbeat()
	// Emit hands a raw event to the supervisor intake.
	Emit(ctx context.Context, event *model.RawEvent) error
	// Credential returns the resolved secret, empty when none is configured.
	Credential() string
}

// Unit is the platform specific polling logic of one watcher. Run blocks
// until ctx is cancelled; returning earlier is treated as a crash.
type Unit interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// Registration binds a unit to its configuration.
type Registration struct {
	Unit     Unit
	Category task.Category
	// Secret, when set, is resolved on every start.
	Secret *SecretRef
}
