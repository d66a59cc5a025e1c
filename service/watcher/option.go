package watcher

import (
	"time"

	"github.com/viant/overseer/service/messaging/memory"
)

// Option configures the Supervisor.
type Option func(s *Supervisor)

// WithStaleness sets the heartbeat age after which a running watcher is
// degraded.
func WithStaleness(d time.Duration) Option {
	return func(s *Supervisor) { s.staleness = d }
}

// WithStopTimeout bounds how long Stop waits for a unit to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.stopTimeout = d }
}

// WithMaxMissedChecks sets how many further stale checks a degraded watcher
// survives.
func WithMaxMissedChecks(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxMissed = n
		}
	}
}

// WithHealthInterval sets the Run health check period.
func WithHealthInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.healthInterval = d }
}

// WithResolver replaces the scy credential resolver.
func WithResolver(resolver Resolver) Option {
	return func(s *Supervisor) { s.resolver = resolver }
}

// WithIntake configures the queue between units and Ingest.
func WithIntake(config memory.Config) Option {
	return func(s *Supervisor) { s.intakeConfig = config }
}

// WithListener registers a health change listener.
func WithListener(listener Listener) Option {
	return func(s *Supervisor) { s.listeners = append(s.listeners, listener) }
}
