// Package loop runs the autonomous triage loop: inbox tasks are triaged and
// first pass drafts are requested and queued for approval.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/taskstore"
)

// Actor is recorded on loop driven transitions.
const Actor = "ralph"

// DefaultInterval is the tick period.
const DefaultInterval = 30 * time.Second

// State of the loop.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// ErrInvalidState is returned for a command the current state does not accept.
var ErrInvalidState = errors.New("loop: invalid state")

// Drafter produces the proposed external action for a task.
type Drafter interface {
	Draft(ctx context.Context, aTask *task.Task) (*task.Draft, error)
}

// DrafterFunc adapts a function to Drafter.
type DrafterFunc func(ctx context.Context, aTask *task.Task) (*task.Draft, error)

// Draft implements Drafter.
func (f DrafterFunc) Draft(ctx context.Context, aTask *task.Task) (*task.Draft, error) {
	return f(ctx, aTask)
}

// TaskStore is the subset of the lifecycle store used by the loop.
type TaskStore interface {
	Folder(ctx context.Context, status task.Status) ([]*task.Task, error)
	Transition(ctx context.Context, id string, to task.Status, note string, options ...taskstore.TransitionOption) (*task.Task, error)
	MaxRetries() int
}

// Gate is the subset of the approval gate used by the loop.
type Gate interface {
	Enqueue(ctx context.Context, aTask *task.Task, draft *task.Draft) (*approval.Item, error)
	Has(ctx context.Context, taskID string) bool
}

// Auditor durably records audit entries.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Result summarises one tick.
type Result struct {
	Triaged int `json:"triaged"`
	Drafted int `json:"drafted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Status is the externally visible loop state.
type Status struct {
	State    State      `json:"state"`
	Ticks    int        `json:"ticks"`
	LastTick *time.Time `json:"last_tick,omitempty"`
	Triaged  int        `json:"triaged"`
	Drafted  int        `json:"drafted"`
}

// Listener observes state changes.
type Listener func(status Status)

// Loop is the triage loop.
type Loop struct {
	tasks    TaskStore
	gate     Gate
	drafter  Drafter
	auditor  Auditor
	interval time.Duration

	mu        sync.Mutex
	status    Status
	cancel    context.CancelFunc
	done      chan struct{}
	tickMu    sync.Mutex
	listeners []Listener
	logger    *logrus.Entry
}

// Start launches the loop; starting a running or paused loop is a no-op.
func (l *Loop) Start(ctx context.Context, actor string) error {
	l.mu.Lock()
	if l.status.State != StateStopped {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	status := l.set(StateRunning)
	go l.run(runCtx, l.done)
	l.mu.Unlock()
	return l.changed(ctx, StateStopped, status, actor)
}

// Stop halts the loop and waits for an in-flight tick.
func (l *Loop) Stop(ctx context.Context, actor string) error {
	l.mu.Lock()
	from := l.status.State
	if from == StateStopped {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.cancel = nil
	status := l.set(StateStopped)
	l.mu.Unlock()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return l.changed(ctx, from, status, actor)
}

// Pause suspends ticking without stopping the loop.
func (l *Loop) Pause(ctx context.Context, actor string) error {
	return l.move(ctx, StateRunning, StatePaused, actor)
}

// Resume continues a paused loop.
func (l *Loop) Resume(ctx context.Context, actor string) error {
	return l.move(ctx, StatePaused, StateRunning, actor)
}

func (l *Loop) move(ctx context.Context, from, to State, actor string) error {
	l.mu.Lock()
	if l.status.State != from {
		state := l.status.State
		l.mu.Unlock()
		return fmt.Errorf("%w: loop is %s", ErrInvalidState, state)
	}
	status := l.set(to)
	l.mu.Unlock()
	return l.changed(ctx, from, status, actor)
}

// set must be called with mu held.
func (l *Loop) set(to State) Status {
	l.status.State = to
	return l.status
}

func (l *Loop) changed(ctx context.Context, from State, status Status, actor string) error {
	if actor == "" {
		actor = task.ActorHuman
	}
	to := status.State
	l.logger.WithFields(logrus.Fields{"from": from, "to": to, "actor": actor}).Info("loop state changed")
	for _, listener := range l.listeners {
		listener(status)
	}
	if l.auditor == nil {
		return nil
	}
	return l.auditor.Append(ctx, &audit.Entry{
		CorrelationID: "loop-" + Actor,
		Action:        audit.ActionLoopStateChanged,
		Level:         audit.LevelInfo,
		Actor:         actor,
		Details:       map[string]interface{}{"from": string(from), "to": string(to)},
	})
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.Status().State != StateRunning {
				continue
			}
			if _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
				l.logger.WithError(err).Warn("tick failed")
			}
		}
	}
}

// Tick performs one pass: Inbox tasks move to Needs_Action, then every
// Needs_Action task without a queued item and with retries left is enqueued
// with its stored draft, or drafted first when it has none.
func (l *Loop) Tick(ctx context.Context) (*Result, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	result := &Result{}

	inbox, err := l.tasks.Folder(ctx, task.StatusInbox)
	if err != nil {
		return nil, err
	}
	for _, aTask := range inbox {
		_, err := l.tasks.Transition(ctx, aTask.ID, task.StatusNeedsAction, "triaged by "+Actor,
			taskstore.WithActor(Actor), taskstore.WithExpectedVersion(aTask.Version()))
		if err != nil {
			if errors.Is(err, task.ErrConcurrencyConflict) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Triaged++
	}

	actionable, err := l.tasks.Folder(ctx, task.StatusNeedsAction)
	if err != nil {
		return result, err
	}
	for _, aTask := range actionable {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if l.gate.Has(ctx, aTask.ID) || aTask.RetryCount >= l.tasks.MaxRetries() {
			result.Skipped++
			continue
		}
		draft := aTask.Draft
		if draft == nil {
			var err error
			if draft, err = l.drafter.Draft(ctx, aTask); err != nil {
				result.Failed++
				l.logger.WithError(err).WithField("task", aTask.ID).Warn("draft failed")
				continue
			}
		}
		if _, err := l.gate.Enqueue(ctx, aTask, draft); err != nil {
			if errors.Is(err, task.ErrConcurrencyConflict) {
				result.Skipped++
				continue
			}
			result.Failed++
			l.logger.WithError(err).WithField("task", aTask.ID).Warn("enqueue failed")
			continue
		}
		result.Drafted++
	}

	now := clock.Now().UTC()
	l.mu.Lock()
	l.status.Ticks++
	l.status.LastTick = &now
	l.status.Triaged += result.Triaged
	l.status.Drafted += result.Drafted
	l.mu.Unlock()
	return result, nil
}

// Status returns the loop status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Option configures the Loop.
type Option func(l *Loop)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithListener registers a state listener.
func WithListener(listener Listener) Option {
	return func(l *Loop) { l.listeners = append(l.listeners, listener) }
}

// New creates a stopped loop.
func New(tasks TaskStore, gate Gate, drafter Drafter, auditor Auditor, options ...Option) *Loop {
	ret := &Loop{
		tasks:    tasks,
		gate:     gate,
		drafter:  drafter,
		auditor:  auditor,
		interval: DefaultInterval,
		status:   Status{State: StateStopped},
		logger:   log.With("loop"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}
