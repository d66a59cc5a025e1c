package overseer

import (
	"context"
	"time"

	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/loop"
)

// RecentEvents bounds the events carried by a status document.
const RecentEvents = 50

// Status is the full dashboard document served by GET /status and sent as
// the first frame of every status stream.
type Status struct {
	GeneratedAt time.Time           `json:"generated_at"`
	DryRun      bool                `json:"dry_run"`
	Watchers    []*model.Watcher    `json:"watchers"`
	Tasks       map[task.Status]int `json:"tasks"`
	Pending     []*approval.Item    `json:"pending"`
	Ralph       loop.Status         `json:"ralph"`
	Intake      IntakeStatus        `json:"intake"`
	Subscribers int                 `json:"subscribers"`
	Events      []*broadcast.Event  `json:"events"`
}

// IntakeStatus describes the watcher intake queue.
type IntakeStatus struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// Status builds the current status document.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	pending, err := s.gate.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[task.Status]int, len(task.Statuses))
	for _, status := range task.Statuses {
		counts[status] = s.progress.Count(status)
	}
	return &Status{
		GeneratedAt: clock.Now().UTC(),
		DryRun:      s.gate.DryRun(),
		Watchers:    s.supervisor.List(),
		Tasks:       counts,
		Pending:     pending,
		Ralph:       s.loop.Status(),
		Intake:      IntakeStatus{Pending: s.supervisor.IntakePending(), DeadLetters: s.supervisor.IntakeDeadLetters()},
		Subscribers: s.broadcaster.Len(),
		Events:      s.broadcaster.Recent(RecentEvents),
	}, nil
}
