package approval

import (
	"time"

	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/policy"
)

type Option func(*Service)

// WithHook registers the execution hook for a category. Hooks are private to
// the gate; nothing else can invoke them.
func WithHook(category task.Category, hook Hook) Option {
	return func(s *Service) { s.hooks[category] = hook }
}

// WithPolicy sets the auto-approval table.
func WithPolicy(table policy.Table) Option {
	return func(s *Service) { s.policy = table }
}

// WithDryRun suppresses hook execution; audit entries are tagged dry_run.
func WithDryRun(dryRun bool) Option {
	return func(s *Service) { s.dryRun = dryRun }
}

// WithTimeout sets how long an item may wait before it is escalated.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.timeout = timeout }
}

// WithRetryDelay sets the base and maximum backoff between execution
// attempts. A zero base retries immediately.
func WithRetryDelay(base, max time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = base
		s.retryMaxDelay = max
	}
}

// WithListener registers a gate activity listener.
func WithListener(listener Listener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, listener) }
}
