package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "overseer_task_transitions_total", Help: "Committed task transitions by target state"}, []string{"to"})
	ConflictsTotal       = prometheus.NewCounter(prometheus.CounterOpts{Name: "overseer_task_conflicts_total", Help: "Transitions refused because another caller held the task"})
	AuditEntriesTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "overseer_audit_entries_total", Help: "Durably appended audit entries by level"}, []string{"level"})
	IngestTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "overseer_ingest_total", Help: "Watcher events by outcome"}, []string{"watcher", "outcome"})
	WatcherHealth        = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "overseer_watcher_health", Help: "1 for the current health of each watcher"}, []string{"watcher", "health"})
	HookExecutions       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "overseer_hook_executions_total", Help: "Execution hook invocations by category and outcome"}, []string{"category", "outcome"})
	PendingApprovals     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "overseer_pending_approvals", Help: "Items awaiting a human decision"})
	BroadcastDropped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "overseer_broadcast_dropped_total", Help: "Events dropped from full subscriber queues"})
	BroadcastSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{Name: "overseer_broadcast_subscribers", Help: "Live status subscribers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			ConflictsTotal,
			AuditEntriesTotal,
			IngestTotal,
			WatcherHealth,
			HookExecutions,
			PendingApprovals,
			BroadcastDropped,
			BroadcastSubscribers,
		)
	})
	return promhttp.Handler()
}

// SetWatcherHealth flips the health gauge of one watcher to the given state.
func SetWatcherHealth(watcher string, current string, all ...string) {
	for _, health := range all {
		value := 0.0
		if health == current {
			value = 1
		}
		WatcherHealth.WithLabelValues(watcher, health).Set(value)
	}
}
