package taskstore

import (
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/progress"
	"github.com/viant/overseer/service/lock"
)

// Option configures the Service.
type Option func(s *Service)

// WithLocker replaces the default process-local locker.
func WithLocker(locker lock.Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithProjector enables the vault folder projection.
func WithProjector(projector *Projector) Option {
	return func(s *Service) { s.projector = projector }
}

// WithProgress attaches live per-status counters.
func WithProgress(p *progress.Progress) Option {
	return func(s *Service) { s.progress = p }
}

// WithMaxRetries sets the number of failed executions after which a task is
// moved to Failed.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithListener registers a change listener.
func WithListener(listener Listener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, listener) }
}

// TransitionOption customises a single transition.
type TransitionOption func(c *transitionConfig)

type transitionConfig struct {
	actor           string
	expectedVersion int
	level           audit.Level
	action          string
	details         map[string]interface{}
	durationMs      *int64
	draft           *task.Draft
}

// WithActor records who performed the transition.
func WithActor(actor string) TransitionOption {
	return func(c *transitionConfig) { c.actor = actor }
}

// WithExpectedVersion makes the transition conditional on the task version
// the caller last observed; a mismatch is a concurrency conflict.
func WithExpectedVersion(version int) TransitionOption {
	return func(c *transitionConfig) { c.expectedVersion = version }
}

// WithLevel overrides the audit level.
func WithLevel(level audit.Level) TransitionOption {
	return func(c *transitionConfig) { c.level = level }
}

// WithAction overrides the audit action name.
func WithAction(action string) TransitionOption {
	return func(c *transitionConfig) { c.action = action }
}

// WithDetails adds audit details.
func WithDetails(details map[string]interface{}) TransitionOption {
	return func(c *transitionConfig) {
		if c.details == nil {
			c.details = map[string]interface{}{}
		}
		for k, v := range details {
			c.details[k] = v
		}
	}
}

// WithDuration records how long the underlying work took.
func WithDuration(ms int64) TransitionOption {
	return func(c *transitionConfig) { c.durationMs = &ms }
}

// WithDraft stores draft on the task record together with the transition.
func WithDraft(draft *task.Draft) TransitionOption {
	return func(c *transitionConfig) { c.draft = draft.Clone() }
}
