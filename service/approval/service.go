package approval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/policy"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/dao/store"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/telemetry"
	"github.com/viant/overseer/tracing"
)

// Defaults applied by New.
const (
	DefaultTimeout       = 24 * time.Hour
	DefaultRetryDelay    = 2 * time.Second
	DefaultRetryMaxDelay = time.Minute
)

// TaskStore is the subset of the lifecycle store used by the gate.
type TaskStore interface {
	Get(ctx context.Context, id string) (*task.Task, error)
	Folder(ctx context.Context, status task.Status) ([]*task.Task, error)
	Transition(ctx context.Context, id string, to task.Status, note string, options ...taskstore.TransitionOption) (*task.Task, error)
	RecordFailure(ctx context.Context, id string, cause error, options ...taskstore.TransitionOption) (*task.Task, error)
	MaxRetries() int
}

// Auditor durably records audit entries.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Service is the approval gate.
type Service struct {
	tasks   TaskStore
	auditor Auditor

	mu    sync.Mutex
	items *store.MemoryStore[string, Item]

	hooks         map[task.Category]Hook
	policy        policy.Table
	dryRun        bool
	timeout       time.Duration
	retryDelay    time.Duration
	retryMaxDelay time.Duration
	listeners     []Listener
	logger        *logrus.Entry
}

// DryRun reports whether hooks are suppressed.
func (s *Service) DryRun() bool { return s.dryRun }

// Enqueue moves a Needs_Action task to Pending_Approval and stores draft on
// its record. Depending on the category policy the item then waits for a
// human, is approved automatically, or is rejected.
func (s *Service) Enqueue(ctx context.Context, aTask *task.Task, draft *task.Draft) (*Item, error) {
	if aTask == nil {
		return nil, dao.ErrNilEntity
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if draft.Category != aTask.Category {
		return nil, fmt.Errorf("%w: %s draft for %s task", task.ErrInvalidDraft, draft.Category, aTask.Category)
	}

	s.mu.Lock()
	_, err := s.items.Load(ctx, aTask.ID)
	s.mu.Unlock()
	if err == nil {
		return nil, fmt.Errorf("task %s already queued: %w", aTask.ID, dao.ErrDuplicate)
	}

	if aTask.Status != task.StatusNeedsAction {
		return nil, fmt.Errorf("task %s in %s cannot be queued: %w", aTask.ID, aTask.Status, task.ErrInvalidTransition)
	}
	note := "draft ready for approval: " + summarize(draft.Content())
	if aTask.RetryCount > 0 {
		note = fmt.Sprintf("redrafted after %d failed attempts: %s", aTask.RetryCount, summarize(draft.Content()))
	}
	current, err := s.tasks.Transition(ctx, aTask.ID, task.StatusPendingApproval, note,
		taskstore.WithExpectedVersion(aTask.Version()),
		taskstore.WithDraft(draft),
		taskstore.WithDetails(map[string]interface{}{"intent": draft.Intent, "dry_run": s.dryRun}))
	if err != nil {
		return nil, err
	}
	aTask = current
	item := newItem(aTask, draft, clock.Now().UTC())

	decision, reason := s.decide(aTask.Category, draft.Intent)
	switch decision {
	case policy.DecisionDeny:
		_, err := s.tasks.Transition(ctx, aTask.ID, task.StatusRejected, reason,
			taskstore.WithActor("policy"),
			taskstore.WithAction(audit.ActionApprovalBlocked),
			taskstore.WithLevel(audit.LevelWarning),
			taskstore.WithDetails(map[string]interface{}{"policy": string(decision), "intent": draft.Intent, "dry_run": s.dryRun}))
		if err != nil {
			return nil, err
		}
		s.notify(EventRejected, item)
		return item.clone(), fmt.Errorf("task %s: %w", aTask.ID, ErrBlockedByPolicy)
	case policy.DecisionAuto:
		item.AutoApproved = true
	}

	s.mu.Lock()
	err = s.items.Save(ctx, item)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.updateGauge()
	s.notify(EventEnqueued, item)

	if item.AutoApproved {
		approver := PolicyApprover(aTask.Category)
		_, err := s.Approve(ctx, item.TaskID, approver)
		if errors.Is(err, ErrNotPending) {
			// the policy sweep claimed the item first
			err = nil
		}
		ret := s.snapshot(ctx, item)
		ret.ApprovedBy = approver
		return ret, err
	}
	return item.clone(), nil
}

func newItem(aTask *task.Task, draft *task.Draft, enqueuedAt time.Time) *Item {
	return &Item{
		TaskID:           aTask.ID,
		CorrelationID:    aTask.CorrelationID,
		Title:            aTask.Title,
		Category:         aTask.Category,
		Draft:            draft.Clone(),
		CharLimit:        draft.CharLimit(),
		RequiresApproval: true,
		EnqueuedAt:       enqueuedAt,
	}
}

// PolicyApprover is the actor recorded for policy driven approvals.
func PolicyApprover(category task.Category) string {
	return "policy:" + string(category)
}

func (s *Service) decide(category task.Category, intent string) (policy.Decision, string) {
	decision := s.policy.Decide(category, intent)
	if decision != policy.DecisionDeny {
		return decision, ""
	}
	reason := fmt.Sprintf("blocked by %s policy", category)
	if intent != "" {
		reason += " for intent " + intent
	}
	return decision, reason
}

// PolicyDecision evaluates the current category policy for a queued item.
func (s *Service) PolicyDecision(item *Item) (policy.Decision, string) {
	intent := ""
	if item.Draft != nil {
		intent = item.Draft.Intent
	}
	return s.decide(item.Category, intent)
}

// ApproveByPolicy approves a queued item on behalf of its category policy.
func (s *Service) ApproveByPolicy(ctx context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	item, err := s.items.Load(ctx, taskID)
	if err == nil && !item.deciding && item.DecisionAt == nil {
		item.AutoApproved = true
		err = s.items.Save(ctx, item)
	}
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotPending)
		}
		return nil, err
	}
	return s.Approve(ctx, taskID, PolicyApprover(item.Category))
}

// Recover rebuilds the queue from stored task records. Pending_Approval
// tasks are queued again with their stored draft. Approved tasks whose
// execution was interrupted are recorded as failed attempts, which returns
// them to Needs_Action with the draft kept for a new decision.
func (s *Service) Recover(ctx context.Context) (int, error) {
	pending, err := s.tasks.Folder(ctx, task.StatusPendingApproval)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, aTask := range pending {
		if aTask.Draft == nil {
			s.logger.WithField("task", aTask.ID).Warn("pending task has no stored draft")
			continue
		}
		item := newItem(aTask, aTask.Draft, aTask.EnteredAt(task.StatusPendingApproval))
		s.mu.Lock()
		_, loadErr := s.items.Load(ctx, aTask.ID)
		if loadErr != nil {
			err = s.items.Save(ctx, item)
		}
		s.mu.Unlock()
		if err != nil {
			return recovered, err
		}
		if loadErr == nil {
			continue
		}
		recovered++
		s.notify(EventEnqueued, item)
	}

	approved, err := s.tasks.Folder(ctx, task.StatusApproved)
	if err != nil {
		return recovered, err
	}
	for _, aTask := range approved {
		if s.Has(ctx, aTask.ID) {
			continue
		}
		current, err := s.tasks.RecordFailure(ctx, aTask.ID, ErrInterrupted,
			taskstore.WithDetails(map[string]interface{}{"recovered": true, "dry_run": s.dryRun}))
		if err != nil {
			return recovered, err
		}
		recovered++
		if current.Status == task.StatusFailed && current.Draft != nil {
			s.notify(EventFailed, newItem(current, current.Draft, current.EnteredAt(task.StatusPendingApproval)))
		}
	}
	s.updateGauge()
	return recovered, nil
}

// snapshot returns the registered copy of item, or item itself once it has
// been removed.
func (s *Service) snapshot(ctx context.Context, item *Item) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, err := s.items.Load(ctx, item.TaskID); err == nil {
		return current
	}
	return item.clone()
}

// Approve records the decision, runs the category hook and completes the
// task. A failed execution goes through the store's retry policy; while
// retries remain the same approved draft is re-queued and executed again.
func (s *Service) Approve(ctx context.Context, taskID, approver string) (*task.Task, error) {
	if strings.TrimSpace(approver) == "" {
		approver = task.ActorHuman
	}
	ctx, span := tracing.StartSpan(ctx, "approval.approve", tracing.KindInternal)
	span.WithAttributes(map[string]string{"task.id": taskID, "approver": approver})
	aTask, err := s.approve(ctx, taskID, approver)
	tracing.EndSpan(span, err)
	return aTask, err
}

func (s *Service) approve(ctx context.Context, taskID, approver string) (*task.Task, error) {
	item, err := s.claim(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, taskID)

	stored, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	decidedAt := clock.Now().UTC()
	if stored.Status != task.StatusApproved {
		item.ApprovedBy = approver
		_, err = s.tasks.Transition(ctx, taskID, task.StatusApproved, "approved by "+approver,
			taskstore.WithActor(approver),
			taskstore.WithDetails(map[string]interface{}{"approved_by": approver, "auto_approved": item.AutoApproved, "dry_run": s.dryRun}))
		if err != nil {
			return nil, err
		}
		item.DecisionAt = &decidedAt
		s.save(ctx, item)
		s.notify(EventApproved, item)
	} else {
		// a previous decision stopped short of completion
		item.DecisionAt = &decidedAt
		s.save(ctx, item)
	}
	approver = item.ApprovedBy

	for {
		var result *Result
		var execErr error
		started := clock.Now()
		if item.Result != nil {
			result = item.Result
		} else {
			item.Attempts++
			result, execErr = s.execute(ctx, item)
		}
		elapsed := clock.Now().Sub(started).Milliseconds()

		if execErr == nil {
			item.Result = result
			note := "completed: " + result.Summary
			if result.ExternalID != "" {
				note += " (" + result.ExternalID + ")"
			}
			done, err := s.tasks.Transition(ctx, taskID, task.StatusDone, note,
				taskstore.WithActor(task.ActorSystem),
				taskstore.WithDuration(elapsed),
				taskstore.WithDetails(map[string]interface{}{"approved_by": approver, "auto_approved": item.AutoApproved, "dry_run": s.dryRun, "attempts": item.Attempts, "external_id": result.ExternalID}))
			if err != nil {
				s.reopen(ctx, item)
				return nil, err
			}
			s.remove(ctx, taskID)
			s.notify(EventExecuted, item)
			return done, nil
		}

		cause := &TransientExecutionError{Category: item.Category, Attempt: item.Attempts, Err: execErr}
		s.logger.WithError(execErr).WithFields(logrus.Fields{"task": taskID, "attempt": item.Attempts}).Warn("execution failed")
		current, err := s.tasks.RecordFailure(ctx, taskID, cause,
			taskstore.WithDuration(elapsed),
			taskstore.WithDetails(map[string]interface{}{"approved_by": approver, "dry_run": s.dryRun}))
		if err != nil {
			s.reopen(ctx, item)
			return nil, err
		}
		if current.Status == task.StatusFailed {
			s.remove(ctx, taskID)
			s.notify(EventFailed, item)
			return current, fmt.Errorf("task %s failed after %d attempts: %w", taskID, current.RetryCount, cause)
		}

		if err := s.wait(ctx, current.RetryCount); err != nil {
			s.remove(ctx, taskID)
			return current, fmt.Errorf("task %s left in %s: %w", taskID, current.Status, err)
		}
		note := fmt.Sprintf("retry %d/%d: re-queued with approval by %s", current.RetryCount, s.tasks.MaxRetries(), approver)
		if _, err = s.tasks.Transition(ctx, taskID, task.StatusPendingApproval, note,
			taskstore.WithExpectedVersion(current.Version()),
			taskstore.WithDetails(map[string]interface{}{"retry": true, "dry_run": s.dryRun})); err != nil {
			s.remove(ctx, taskID)
			return nil, err
		}
		if _, err = s.tasks.Transition(ctx, taskID, task.StatusApproved, "approval carried over from "+approver,
			taskstore.WithActor(approver),
			taskstore.WithDetails(map[string]interface{}{"approved_by": approver, "carried_over": true, "auto_approved": item.AutoApproved, "dry_run": s.dryRun})); err != nil {
			s.remove(ctx, taskID)
			return nil, err
		}
	}
}

// execute runs the hook for item, or a no-op in dry run mode.
func (s *Service) execute(ctx context.Context, item *Item) (result *Result, err error) {
	if s.dryRun {
		telemetry.HookExecutions.WithLabelValues(string(item.Category), "dry_run").Inc()
		return &Result{Summary: "dry-run: execution suppressed"}, nil
	}
	hook, ok := s.hooks[item.Category]
	if !ok {
		if !item.Category.IsSendClass() {
			return &Result{Summary: "no external action required"}, nil
		}
		return nil, fmt.Errorf("%w for %s", ErrNoHook, item.Category)
	}

	ctx, span := tracing.StartSpan(ctx, "approval.hook", tracing.KindClient)
	span.WithAttributes(map[string]string{"task.id": item.TaskID, "category": string(item.Category)})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		telemetry.HookExecutions.WithLabelValues(string(item.Category), outcome).Inc()
		tracing.EndSpan(span, err)
	}()

	result, err = hook.Execute(ctx, item.clone())
	if err == nil && result == nil {
		result = &Result{Summary: "executed"}
	}
	return result, err
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	if s.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(backoffWithJitter(s.retryDelay, s.retryMaxDelay, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if max > 0 && wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

// Reject records a negative decision; the hook is never invoked.
func (s *Service) Reject(ctx context.Context, taskID, approver, reason string) (*task.Task, error) {
	if strings.TrimSpace(approver) == "" {
		approver = task.ActorHuman
	}
	item, err := s.claim(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, taskID)

	rejected, err := s.tasks.Transition(ctx, taskID, task.StatusRejected, reason,
		taskstore.WithActor(approver),
		taskstore.WithDetails(map[string]interface{}{"rejected_by": approver, "dry_run": s.dryRun}))
	if err != nil {
		return nil, err
	}
	s.remove(ctx, taskID)
	s.notify(EventRejected, item)
	return rejected, nil
}

// ListPending returns items awaiting a decision, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]*Item, error) {
	s.mu.Lock()
	items, err := s.items.List(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	pending := make([]*Item, 0, len(items))
	for _, item := range items {
		if !item.deciding && item.DecisionAt == nil {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt) })
	return pending, nil
}

// Has reports whether the gate currently tracks taskID.
func (s *Service) Has(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.items.Load(ctx, taskID)
	return err == nil
}

// Escalate emits one approval_timeout audit entry for every pending item that
// waited longer than the timeout. Items are never rejected here.
func (s *Service) Escalate(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, item := range pending {
		waited := now.Sub(item.EnqueuedAt)
		if item.Escalated || waited <= s.timeout {
			continue
		}
		s.mu.Lock()
		current, err := s.items.Load(ctx, item.TaskID)
		if err != nil || current.Escalated || current.deciding {
			s.mu.Unlock()
			continue
		}
		current.Escalated = true
		_ = s.items.Save(ctx, current)
		s.mu.Unlock()

		if s.auditor != nil {
			if err := s.auditor.Append(ctx, &audit.Entry{
				CorrelationID: item.CorrelationID,
				Action:        audit.ActionApprovalTimeout,
				Level:         audit.LevelWarning,
				Platform:      string(item.Category),
				TaskID:        item.TaskID,
				Details: map[string]interface{}{
					"error":          ErrApprovalTimeout.Error(),
					"waited_seconds": int64(waited.Seconds()),
					"timeout":        s.timeout.String(),
					"dry_run":        s.dryRun,
				},
			}); err != nil {
				return escalated, err
			}
		}
		escalated++
		s.notify(EventEscalated, current)
	}
	return escalated, nil
}

// claim marks a pending item as being decided.
func (s *Service) claim(ctx context.Context, taskID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.items.Load(ctx, taskID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotPending)
		}
		return nil, err
	}
	if item.deciding || item.DecisionAt != nil {
		return nil, fmt.Errorf("task %s is already being decided: %w", taskID, ErrNotPending)
	}
	item.deciding = true
	if err = s.items.Save(ctx, item); err != nil {
		return nil, err
	}
	return item.clone(), nil
}

// reopen makes an approved item whose outcome could not be recorded
// decidable again. A stored result prevents a second execution.
func (s *Service) reopen(ctx context.Context, item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := item.clone()
	stored.DecisionAt = nil
	stored.deciding = false
	_ = s.items.Save(ctx, stored)
}

// release clears the deciding flag when the item is still registered and
// undecided, for example after a failed transition.
func (s *Service) release(ctx context.Context, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.items.Load(ctx, taskID)
	if err != nil {
		return
	}
	if item.DecisionAt == nil {
		item.deciding = false
		_ = s.items.Save(ctx, item)
	}
}

func (s *Service) save(ctx context.Context, item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := item.clone()
	stored.deciding = true
	_ = s.items.Save(ctx, stored)
}

func (s *Service) remove(ctx context.Context, taskID string) {
	s.mu.Lock()
	_ = s.items.Delete(ctx, taskID)
	s.mu.Unlock()
	s.updateGauge()
}

func (s *Service) updateGauge() {
	s.mu.Lock()
	n := s.items.Len()
	s.mu.Unlock()
	telemetry.PendingApprovals.Set(float64(n))
}

func (s *Service) notify(kind string, item *Item) {
	for _, listener := range s.listeners {
		listener(kind, item.clone())
	}
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return text
}

// New creates the gate.
func New(tasks TaskStore, auditor Auditor, options ...Option) *Service {
	ret := &Service{
		tasks:         tasks,
		auditor:       auditor,
		items:         store.NewMemoryStore[string, Item](func(i *Item) string { return i.TaskID }, store.WithClone[string, Item]((*Item).clone)),
		hooks:         map[task.Category]Hook{},
		timeout:       DefaultTimeout,
		retryDelay:    DefaultRetryDelay,
		retryMaxDelay: DefaultRetryMaxDelay,
		logger:        log.With("approval"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}
