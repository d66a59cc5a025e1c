package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/progress"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/lock"
	"github.com/viant/overseer/telemetry"
	"github.com/viant/overseer/tracing"
)

// DefaultMaxRetries is the number of failed executions tolerated before a
// task is moved to Failed.
const DefaultMaxRetries = 3

// ErrAuditFailed is returned when a change could not be audited; the change
// is rolled back.
var ErrAuditFailed = errors.New("audit entry not recorded")

// Auditor durably records audit entries.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Listener observes committed changes. It receives a copy of the task and
// the transition that produced it; it runs while the task lock is held and
// must not block.
type Listener func(aTask *task.Task, tr *task.Transition)

// CreateRequest describes a new task.
type CreateRequest struct {
	ID            string
	Title         string
	Category      task.Category
	CorrelationID string
	Source        string
	Payload       map[string]interface{}
	Actor         string
	// Action, when set, writes an audit entry for the creation.
	Action string
}

// Service owns the task lifecycle: every mutation goes through a per-task
// lock and is persisted, audited and published before the lock is released.
type Service struct {
	dao        dao.Service[string, task.Task]
	auditor    Auditor
	locker     lock.Locker
	projector  *Projector
	progress   *progress.Progress
	maxRetries int
	listeners  []Listener
	logger     *logrus.Entry
}

// MaxRetries returns the configured retry limit.
func (s *Service) MaxRetries() int { return s.maxRetries }

// Create stores a new task in Inbox.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*task.Task, error) {
	if req == nil {
		return nil, dao.ErrNilEntity
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("unknown task category %q", req.Category)
	}
	id := req.ID
	if id == "" {
		id = idgen.New()
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = idgen.Correlation()
	}
	actor := req.Actor
	if actor == "" {
		actor = task.ActorSystem
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if existing, err := s.dao.Load(ctx, id); err == nil {
		return existing, fmt.Errorf("task %s: %w", id, dao.ErrDuplicate)
	} else if !errors.Is(err, dao.ErrNotFound) {
		return nil, err
	}

	now := clock.Now().UTC()
	aTask := &task.Task{
		ID:            id,
		Title:         strings.TrimSpace(req.Title),
		Category:      req.Category,
		CorrelationID: correlationID,
		Source:        req.Source,
		CreatedAt:     now,
		Payload:       req.Payload,
	}
	tr := &task.Transition{Timestamp: now, To: task.StatusInbox, Note: "created", Actor: actor}
	aTask.Append(tr)
	if err = s.dao.Save(ctx, aTask); err != nil {
		return nil, fmt.Errorf("failed to save task %s: %w", id, err)
	}
	if req.Action != "" {
		err = s.audit(ctx, &audit.Entry{
			CorrelationID: correlationID,
			Action:        req.Action,
			Level:         audit.LevelInfo,
			Platform:      string(aTask.Category),
			Actor:         actor,
			TaskID:        id,
			Details:       map[string]interface{}{"title": aTask.Title, "source": aTask.Source},
		})
		if err != nil {
			if dErr := s.dao.Delete(ctx, id); dErr != nil {
				s.logger.WithError(dErr).WithField("task", id).Error("failed to roll back unaudited task")
			}
			return nil, fmt.Errorf("task %s: %w: %v", id, ErrAuditFailed, err)
		}
	}
	s.after(ctx, aTask, tr, "")
	return aTask.Clone(), nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id string) (*task.Task, error) {
	aTask, err := s.dao.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return aTask, nil
}

// List returns tasks narrowed by dao parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	return s.dao.List(ctx, parameters...)
}

// Folder returns every task currently in status.
func (s *Service) Folder(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.dao.List(ctx, dao.NewParameter(dao.ParamStatus, string(status)))
}

// Transition moves a task to the target state.
func (s *Service) Transition(ctx context.Context, id string, to task.Status, note string, options ...TransitionOption) (*task.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "taskstore.transition", tracing.KindInternal)
	span.WithAttributes(map[string]string{"task.id": id, "task.to": string(to)})
	aTask, err := s.transition(ctx, id, to, note, options...)
	tracing.EndSpan(span, err)
	return aTask, err
}

func (s *Service) transition(ctx context.Context, id string, to task.Status, note string, options ...TransitionOption) (*task.Task, error) {
	cfg := &transitionConfig{actor: task.ActorSystem, expectedVersion: -1}
	for _, option := range options {
		option(cfg)
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	aTask, err := s.dao.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	if cfg.expectedVersion >= 0 && aTask.Version() != cfg.expectedVersion {
		telemetry.ConflictsTotal.Inc()
		return nil, fmt.Errorf("task %s changed (version %d, expected %d): %w", id, aTask.Version(), cfg.expectedVersion, task.ErrConcurrencyConflict)
	}
	if err = s.commit(ctx, aTask, aTask.Clone(), to, note, cfg); err != nil {
		return nil, err
	}
	return aTask.Clone(), nil
}

// RecordFailure applies the retry policy to an Approved task whose execution
// failed: the retry counter is incremented and the task returns to
// Needs_Action; once the counter reaches the limit the task moves on to
// Failed with a critical audit entry.
func (s *Service) RecordFailure(ctx context.Context, id string, cause error, options ...TransitionOption) (*task.Task, error) {
	cfg := &transitionConfig{actor: task.ActorSystem, expectedVersion: -1}
	for _, option := range options {
		option(cfg)
	}

	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	aTask, err := s.dao.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	stored := aTask.Clone()
	if aTask.Status != task.StatusApproved {
		return nil, fmt.Errorf("task %s: cannot record failure in %s: %w", id, aTask.Status, task.ErrInvalidTransition)
	}
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	aTask.RetryCount++
	failed := *cfg
	failed.level = audit.LevelWarning
	failed.action = audit.ActionExecutionFailed
	failed.details = mergeDetails(cfg.details, map[string]interface{}{"retry_count": aTask.RetryCount, "max_retries": s.maxRetries, "error": reason})
	note := fmt.Sprintf("execution failed (attempt %d/%d): %s", aTask.RetryCount, s.maxRetries, reason)
	if err = s.commit(ctx, aTask, stored, task.StatusNeedsAction, note, &failed); err != nil {
		return nil, err
	}
	if aTask.RetryCount < s.maxRetries {
		return aTask.Clone(), nil
	}

	exhausted := failed
	exhausted.level = audit.LevelCritical
	exhausted.action = audit.ActionRetriesExhausted
	exhausted.durationMs = nil
	note = fmt.Sprintf("retries exhausted after %d attempts: %s", aTask.RetryCount, reason)
	if err = s.commit(ctx, aTask, aTask.Clone(), task.StatusFailed, note, &exhausted); err != nil {
		return nil, err
	}
	return aTask.Clone(), nil
}

// commit validates and applies one transition. The caller holds the task
// lock; stored is the persisted record restored when the audit append fails.
func (s *Service) commit(ctx context.Context, aTask *task.Task, stored *task.Task, to task.Status, note string, cfg *transitionConfig) error {
	from := aTask.Status
	if !task.CanTransition(from, to) {
		return fmt.Errorf("task %s: %s -> %s: %w", aTask.ID, from, to, task.ErrInvalidTransition)
	}
	note = strings.TrimSpace(note)
	if to.RequiresNote() && note == "" {
		return fmt.Errorf("task %s: entering %s: %w", aTask.ID, to, task.ErrMissingRequiredNote)
	}

	tr := &task.Transition{Timestamp: clock.Now().UTC(), From: from, To: to, Note: note, Actor: cfg.actor}
	if cfg.draft != nil {
		aTask.Draft = cfg.draft
	}
	aTask.Append(tr)
	if err := s.dao.Save(ctx, aTask); err != nil {
		*aTask = *stored.Clone()
		return fmt.Errorf("failed to save task %s: %w", aTask.ID, err)
	}

	level := cfg.level
	if level == "" {
		level = audit.LevelInfo
	}
	action := cfg.action
	if action == "" {
		action = audit.ActionTransition
	}
	err := s.audit(ctx, &audit.Entry{
		CorrelationID: aTask.CorrelationID,
		Action:        action,
		Level:         level,
		Platform:      string(aTask.Category),
		Actor:         cfg.actor,
		TaskID:        aTask.ID,
		DurationMs:    cfg.durationMs,
		Details: mergeDetails(cfg.details, map[string]interface{}{
			"from":    string(from),
			"to":      string(to),
			"note":    note,
			"version": aTask.Version(),
		}),
	})
	if err != nil {
		if sErr := s.dao.Save(ctx, stored); sErr != nil {
			s.logger.WithError(sErr).WithField("task", aTask.ID).Error("failed to roll back unaudited transition")
		}
		*aTask = *stored.Clone()
		return fmt.Errorf("task %s: %s -> %s: %w: %v", aTask.ID, from, to, ErrAuditFailed, err)
	}
	s.after(ctx, aTask, tr, from)
	return nil
}

// after updates derived state: projection, counters, metrics, listeners.
func (s *Service) after(ctx context.Context, aTask *task.Task, tr *task.Transition, from task.Status) {
	if s.projector != nil {
		if err := s.projector.Project(ctx, aTask, from); err != nil {
			s.logger.WithError(err).WithField("task", aTask.ID).Warn("projection out of date")
		}
	}
	s.progress.Update(progress.Delta{From: from, To: tr.To})
	telemetry.TransitionsTotal.WithLabelValues(string(tr.To)).Inc()
	if len(s.listeners) == 0 {
		return
	}
	snapshot := aTask.Clone()
	entry := *tr
	for _, listener := range s.listeners {
		listener(snapshot, &entry)
	}
}

func (s *Service) audit(ctx context.Context, entry *audit.Entry) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"task": entry.TaskID, "action": entry.Action}).Error("failed to append audit entry")
		return err
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, id string) (func(), error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	unlock, ok, err := s.locker.TryLock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: failed to lock: %w", id, err)
	}
	if !ok {
		telemetry.ConflictsTotal.Inc()
		return nil, fmt.Errorf("task %s is being modified: %w", id, task.ErrConcurrencyConflict)
	}
	return unlock, nil
}

// Load primes counters and the folder projection from stored records.
func (s *Service) Load(ctx context.Context) error {
	tasks, err := s.dao.List(ctx)
	if err != nil {
		return err
	}
	counts := map[task.Status]int{}
	for _, aTask := range tasks {
		counts[aTask.Status]++
	}
	s.progress.Reset(counts)
	if s.projector != nil {
		if err := s.projector.Rebuild(ctx, tasks); err != nil {
			return err
		}
		_ = s.audit(ctx, &audit.Entry{Action: audit.ActionProjectionRebuilt, Details: map[string]interface{}{"tasks": len(tasks)}})
	}
	return nil
}

func mergeDetails(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		ret[k] = v
	}
	for k, v := range extra {
		ret[k] = v
	}
	return ret
}

// New creates a task store.
func New(taskDAO dao.Service[string, task.Task], auditor Auditor, options ...Option) *Service {
	ret := &Service{
		dao:        taskDAO,
		auditor:    auditor,
		maxRetries: DefaultMaxRetries,
		logger:     log.With("taskstore"),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.locker == nil {
		ret.locker = lock.NewMemory()
	}
	if ret.progress == nil {
		ret.progress = progress.New()
	}
	return ret
}
