package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/messaging/memory"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/telemetry"
)

// Defaults applied by New.
const (
	DefaultStaleness      = 2 * time.Minute
	DefaultStopTimeout    = 5 * time.Second
	DefaultMaxMissed      = 3
	DefaultHealthInterval = 30 * time.Second
)

// Stop paths recorded in the watcher_stopped audit entry.
const (
	StopGraceful = "graceful"
	StopForced   = "forced"
	StopNoop     = "noop"
)

var healths = []string{string(model.HealthStopped), string(model.HealthRunning), string(model.HealthDegraded), string(model.HealthError)}

// TaskCreator creates tasks for ingested events.
type TaskCreator interface {
	Create(ctx context.Context, req *taskstore.CreateRequest) (*task.Task, error)
}

// Auditor durably records audit entries.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Listener observes watcher state changes.
type Listener func(w *model.Watcher)

type intakeEvent struct {
	Watcher string
	Event   model.RawEvent
}

type entry struct {
	registration *Registration
	state        model.Watcher
	cancel       context.CancelFunc
	done         chan struct{}
	credential   string
	generation   int
}

// Supervisor owns the registry of watchers and their lifecycle.
type Supervisor struct {
	tasks   TaskCreator
	auditor Auditor

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	staleness      time.Duration
	stopTimeout    time.Duration
	maxMissed      int
	healthInterval time.Duration
	resolver       Resolver
	intakeConfig   memory.Config
	intake         *memory.Queue[intakeEvent]
	listeners      []Listener
	logger         *logrus.Entry
}

// Start launches the named watcher. Starting a running or degraded watcher
// is a no-op; a watcher in error has to be stopped first.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	var health model.Health
	if ok {
		health = e.state.Health
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatcher, name)
	}
	switch health {
	case model.HealthRunning, model.HealthDegraded:
		return nil
	case model.HealthError:
		return fmt.Errorf("%w: %s", ErrInErrorState, name)
	}

	var credential string
	if ref := e.registration.Secret; ref != nil {
		value, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			cause := &PermanentConfigError{Watcher: name, Err: err}
			s.mu.Lock()
			if e.state.Health == model.HealthStopped {
				s.setHealth(e, model.HealthError, cause.Error())
			}
			snapshot := e.state
			s.mu.Unlock()
			s.audit(ctx, e, audit.ActionWatcherError, audit.LevelError, map[string]interface{}{"error": cause.Error()})
			s.notify(&snapshot)
			return cause
		}
		credential = value
	}

	s.mu.Lock()
	if e.state.Health != model.HealthStopped {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	now := clock.Now().UTC()
	e.generation++
	e.cancel = cancel
	e.done = make(chan struct{})
	e.credential = credential
	e.state.StartedAt = &now
	e.state.LastHeartbeat = &now
	e.state.MissedChecks = 0
	s.setHealth(e, model.HealthRunning, "")
	snapshot := e.state
	go s.run(runCtx, e, e.generation, e.done)
	s.mu.Unlock()

	s.logger.WithField("watcher", name).Info("watcher started")
	s.audit(ctx, e, audit.ActionWatcherStarted, audit.LevelInfo, nil)
	s.notify(&snapshot)
	return nil
}

func (s *Supervisor) run(ctx context.Context, e *entry, generation int, done chan struct{}) {
	sink := &sink{supervisor: s, entry: e, generation: generation}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = e.registration.Unit.Run(ctx, sink)
	}()
	close(done)
	if ctx.Err() != nil {
		return
	}

	message := "unit exited"
	if err != nil {
		message = err.Error()
	}
	s.mu.Lock()
	if e.generation != generation {
		s.mu.Unlock()
		return
	}
	e.cancel = nil
	s.setHealth(e, model.HealthError, message)
	snapshot := e.state
	s.mu.Unlock()

	s.logger.WithField("watcher", e.state.Name).Error("watcher exited: " + message)
	s.audit(context.Background(), e, audit.ActionWatcherExited, audit.LevelError, map[string]interface{}{"error": message})
	s.notify(&snapshot)
}

// Stop cancels the named watcher and waits up to the stop timeout. Exactly
// one audit entry records whether the exit was graceful, forced or a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWatcher, name)
	}
	previous := e.state.Health
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.generation++
	s.mu.Unlock()

	path := StopNoop
	started := clock.Now()
	if cancel != nil {
		cancel()
		timer := time.NewTimer(s.stopTimeout)
		select {
		case <-done:
			path = StopGraceful
		case <-timer.C:
			path = StopForced
		case <-ctx.Done():
			path = StopForced
		}
		timer.Stop()
	}

	s.mu.Lock()
	s.setHealth(e, model.HealthStopped, "")
	e.state.MissedChecks = 0
	e.credential = ""
	snapshot := e.state
	s.mu.Unlock()

	level := audit.LevelInfo
	if path == StopForced {
		level = audit.LevelWarning
	}
	s.logger.WithFields(logrus.Fields{"watcher": name, "path": path}).Info("watcher stopped")
	s.auditWithDuration(ctx, e, audit.ActionWatcherStopped, level, map[string]interface{}{"path": path, "previous": string(previous)}, clock.Now().Sub(started).Milliseconds())
	if previous != model.HealthStopped {
		s.notify(&snapshot)
	}
	return nil
}

// StartAll starts every registered watcher.
func (s *Supervisor) StartAll(ctx context.Context) error {
	var errs []error
	for _, name := range s.names() {
		if err := s.Start(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every registered watcher concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	names := s.names()
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = s.Stop(ctx, name)
		}(i, name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// HealthCheck applies the heartbeat rules at now and returns the watchers
// whose health changed.
func (s *Supervisor) HealthCheck(ctx context.Context, now time.Time) []*model.Watcher {
	type change struct {
		e       *entry
		action  string
		level   audit.Level
		details map[string]interface{}
		state   model.Watcher
	}
	var changes []change

	s.mu.Lock()
	for _, name := range s.order {
		e := s.entries[name]
		stale := e.state.LastHeartbeat == nil || now.Sub(*e.state.LastHeartbeat) > s.staleness
		var age int64
		if e.state.LastHeartbeat != nil {
			age = int64(now.Sub(*e.state.LastHeartbeat).Seconds())
		}
		switch e.state.Health {
		case model.HealthRunning:
			if !stale {
				continue
			}
			e.state.MissedChecks = 1
			s.setHealth(e, model.HealthDegraded, "heartbeat stale")
			changes = append(changes, change{e: e, action: audit.ActionWatcherDegraded, level: audit.LevelWarning,
				details: map[string]interface{}{"heartbeat_age_seconds": age}, state: e.state})
		case model.HealthDegraded:
			if !stale {
				e.state.MissedChecks = 0
				s.setHealth(e, model.HealthRunning, "")
				changes = append(changes, change{e: e, action: audit.ActionWatcherRecovered, level: audit.LevelInfo, state: e.state})
				continue
			}
			e.state.MissedChecks++
			if e.state.MissedChecks <= s.maxMissed {
				continue
			}
			if e.cancel != nil {
				e.cancel()
				e.cancel = nil
				e.generation++
			}
			message := fmt.Sprintf("no heartbeat for %ds", age)
			s.setHealth(e, model.HealthError, message)
			changes = append(changes, change{e: e, action: audit.ActionWatcherError, level: audit.LevelError,
				details: map[string]interface{}{"error": message, "missed_checks": e.state.MissedChecks}, state: e.state})
		}
	}
	s.mu.Unlock()

	ret := make([]*model.Watcher, 0, len(changes))
	for i := range changes {
		c := &changes[i]
		s.logger.WithFields(logrus.Fields{"watcher": c.state.Name, "health": c.state.Health}).Warn("watcher health changed")
		s.audit(ctx, c.e, c.action, c.level, c.details)
		s.notify(&c.state)
		ret = append(ret, &c.state)
	}
	return ret
}

// Ingest validates raw and creates its task. A re-emitted event with the same
// source id resolves to the existing task.
func (s *Supervisor) Ingest(ctx context.Context, name string, raw *model.RawEvent) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWatcher, name)
	}

	category, err := s.validate(e, raw)
	if err != nil {
		s.mu.Lock()
		e.state.Rejected++
		s.mu.Unlock()
		telemetry.IngestTotal.WithLabelValues(name, "rejected").Inc()
		details := map[string]interface{}{"reason": err.Error()}
		if raw != nil && raw.SourceID != "" {
			details["source_id"] = raw.SourceID
		}
		s.audit(ctx, e, audit.ActionIngestRejected, audit.LevelWarning, details)
		return "", err
	}

	payload := raw.Payload
	if raw.ReceivedAt != nil {
		payload = map[string]interface{}{}
		for k, v := range raw.Payload {
			payload[k] = v
		}
		payload["received_at"] = raw.ReceivedAt.UTC().Format(time.RFC3339)
	}
	if raw.SourceID != "" {
		if payload == nil {
			payload = map[string]interface{}{}
		}
		payload["source_id"] = raw.SourceID
	}
	aTask, err := s.tasks.Create(ctx, &taskstore.CreateRequest{
		ID:            idgen.TaskID(name, raw.SourceID),
		Title:         raw.Title,
		Category:      category,
		CorrelationID: raw.CorrelationID,
		Source:        name,
		Payload:       payload,
		Actor:         name,
		Action:        audit.ActionTaskIngested,
	})
	if err != nil {
		if errors.Is(err, dao.ErrDuplicate) && aTask != nil {
			telemetry.IngestTotal.WithLabelValues(name, "duplicate").Inc()
			return aTask.ID, nil
		}
		telemetry.IngestTotal.WithLabelValues(name, "error").Inc()
		return "", err
	}
	s.mu.Lock()
	e.state.Ingested++
	s.mu.Unlock()
	telemetry.IngestTotal.WithLabelValues(name, "accepted").Inc()
	return aTask.ID, nil
}

func (s *Supervisor) validate(e *entry, raw *model.RawEvent) (category task.Category, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during validation: %v", ErrInvalidEvent, r)
		}
	}()
	if raw == nil {
		return "", fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return "", fmt.Errorf("%w: title is empty", ErrInvalidEvent)
	}
	category = e.registration.Category
	if raw.Category != "" {
		category = task.Category(strings.ToLower(strings.TrimSpace(raw.Category)))
	}
	if !category.IsValid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, raw.Category)
	}
	return category, nil
}

// Run drives the intake queue and periodic health checks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consume(ctx)
	}()

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.intake.Close()
			wg.Wait()
			return
		case <-ticker.C:
			s.HealthCheck(ctx, clock.Now())
		}
	}
}

func (s *Supervisor) consume(ctx context.Context) {
	for {
		message, err := s.intake.Consume(ctx)
		if err != nil {
			return
		}
		event := message.T()
		_, err = s.Ingest(ctx, event.Watcher, &event.Event)
		if err == nil || errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrUnknownWatcher) {
			_ = message.Ack()
			continue
		}
		s.logger.WithError(err).WithFields(logrus.Fields{"watcher": event.Watcher, "attempt": message.Attempt()}).Warn("ingest failed")
		_ = message.Nack(err)
	}
}

// IntakeDeadLetters returns the number of events dropped after exhausting
// ingest retries.
func (s *Supervisor) IntakeDeadLetters() int { return s.intake.DLQSize() }

// IntakePending returns the number of events not yet ingested.
func (s *Supervisor) IntakePending() int { return s.intake.Pending() }

// Get returns a snapshot of the named watcher.
func (s *Supervisor) Get(name string) (*model.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWatcher, name)
	}
	state := e.state
	return &state, nil
}

// List returns snapshots of every watcher in registration order.
func (s *Supervisor) List() []*model.Watcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*model.Watcher, 0, len(s.order))
	for _, name := range s.order {
		state := s.entries[name].state
		ret = append(ret, &state)
	}
	return ret
}

func (s *Supervisor) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// setHealth must be called with mu held.
func (s *Supervisor) setHealth(e *entry, health model.Health, message string) {
	e.state.Health = health
	e.state.ErrorMessage = message
	telemetry.SetWatcherHealth(e.state.Name, string(health), healths...)
}

func (s *Supervisor) audit(ctx context.Context, e *entry, action string, level audit.Level, details map[string]interface{}) {
	s.write(ctx, e, action, level, details, nil)
}

func (s *Supervisor) auditWithDuration(ctx context.Context, e *entry, action string, level audit.Level, details map[string]interface{}, ms int64) {
	s.write(ctx, e, action, level, details, &ms)
}

func (s *Supervisor) write(ctx context.Context, e *entry, action string, level audit.Level, details map[string]interface{}, ms *int64) {
	if s.auditor == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["watcher"] = e.state.Name
	if err := s.auditor.Append(ctx, &audit.Entry{
		CorrelationID: "watcher-" + e.state.Name,
		Action:        action,
		Level:         level,
		Platform:      e.state.Category,
		Actor:         e.state.Name,
		DurationMs:    ms,
		Details:       details,
	}); err != nil {
		s.logger.WithError(err).WithField("action", action).Error("failed to write audit entry")
	}
}

func (s *Supervisor) notify(w *model.Watcher) {
	for _, listener := range s.listeners {
		state := *w
		listener(&state)
	}
}

type sink struct {
	supervisor *Supervisor
	entry      *entry
	generation int
}

func (k *sink) Heartbeat() {
	s := k.supervisor
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.entry.generation != k.generation {
		return
	}
	now := clock.Now().UTC()
	k.entry.state.LastHeartbeat = &now
}

func (k *sink) Emit(ctx context.Context, event *model.RawEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	return k.supervisor.intake.Publish(ctx, &intakeEvent{Watcher: k.entry.state.Name, Event: *event})
}

func (k *sink) Credential() string {
	s := k.supervisor
	s.mu.RLock()
	defer s.mu.RUnlock()
	return k.entry.credential
}

// New creates a supervisor over the fixed set of registrations. Every
// watcher starts stopped.
func New(tasks TaskCreator, auditor Auditor, registrations []*Registration, options ...Option) (*Supervisor, error) {
	ret := &Supervisor{
		tasks:          tasks,
		auditor:        auditor,
		entries:        map[string]*entry{},
		staleness:      DefaultStaleness,
		stopTimeout:    DefaultStopTimeout,
		maxMissed:      DefaultMaxMissed,
		healthInterval: DefaultHealthInterval,
		intakeConfig:   memory.DefaultConfig(),
		logger:         log.With("watcher"),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.resolver == nil {
		ret.resolver = NewScyResolver()
	}
	ret.intake = memory.NewQueue[intakeEvent](ret.intakeConfig)

	for _, registration := range registrations {
		if registration == nil || registration.Unit == nil {
			return nil, fmt.Errorf("watcher registration is empty")
		}
		name := registration.Unit.Name()
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("watcher name is empty")
		}
		if _, ok := ret.entries[name]; ok {
			return nil, fmt.Errorf("watcher %s: %w", name, dao.ErrDuplicate)
		}
		if !registration.Category.IsValid() {
			return nil, fmt.Errorf("watcher %s: unknown category %q", name, registration.Category)
		}
		ret.entries[name] = &entry{
			registration: registration,
			state:        model.Watcher{Name: name, Category: string(registration.Category), Health: model.HealthStopped},
		}
		ret.order = append(ret.order, name)
		telemetry.SetWatcherHealth(name, string(model.HealthStopped), healths...)
	}
	return ret, nil
}
