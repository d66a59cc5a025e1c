package overseer

import (
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/lock"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/watcher"
	"github.com/viant/overseer/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the Service.
type Option func(s *Service)

// WithHook registers the external side effect for a category.
func WithHook(category task.Category, hook approval.Hook) Option {
	return func(s *Service) {
		if s.hooks == nil {
			s.hooks = map[task.Category]approval.Hook{}
		}
		s.hooks[category] = hook
	}
}

// WithWatcher registers an additional watcher unit.
func WithWatcher(unit watcher.Unit, category task.Category, secret *watcher.SecretRef) Option {
	return func(s *Service) {
		s.registrations = append(s.registrations, &watcher.Registration{Unit: unit, Category: category, Secret: secret})
	}
}

// WithDrafter sets the draft generator used by the triage loop.
func WithDrafter(drafter loop.Drafter) Option {
	return func(s *Service) { s.drafter = drafter }
}

// WithTaskDAO overrides the configured task record backend.
func WithTaskDAO(taskDAO dao.Service[string, task.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithLocker overrides the configured per-task lock.
func WithLocker(locker lock.Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithResolver sets the watcher credential resolver.
func WithResolver(resolver watcher.Resolver) Option {
	return func(s *Service) { s.resolver = resolver }
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
