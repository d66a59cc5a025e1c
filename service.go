package overseer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	"github.com/viant/overseer/policy"
	"github.com/viant/overseer/progress"
	"github.com/viant/overseer/service/api"
	"github.com/viant/overseer/service/approval"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/compose"
	"github.com/viant/overseer/service/dao"
	taskfs "github.com/viant/overseer/service/dao/task/fs"
	taskmemory "github.com/viant/overseer/service/dao/task/memory"
	"github.com/viant/overseer/service/dao/task/postgres"
	"github.com/viant/overseer/service/lock"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/service/watcher"
	"github.com/viant/overseer/service/watcher/spool"
	"github.com/viant/overseer/tracing"
)

// TaskRecordFolder holds authoritative task records under the vault for the
// filesystem backend.
const TaskRecordFolder = ".tasks"

// Service is the control plane façade: it owns every component and wires
// their change notifications into the status broadcaster.
type Service struct {
	config *Config

	audit       *auditsvc.Service
	tasks       *taskstore.Service
	gate        *approval.Service
	supervisor  *watcher.Supervisor
	loop        *loop.Loop
	compose     *compose.Service
	broadcaster *broadcast.Broadcaster
	progress    *progress.Progress
	api         *api.Server

	hooks         map[task.Category]approval.Hook
	registrations []*watcher.Registration
	drafter       loop.Drafter
	taskDAO       dao.Service[string, task.Task]
	locker        lock.Locker
	resolver      watcher.Resolver

	closers []func() error
	logger  *logrus.Entry
}

func (s *Service) Config() *Config { return s.config }
func (s *Service) Tasks() *taskstore.Service { return s.tasks }
func (s *Service) Gate() *approval.Service { return s.gate }
func (s *Service) Audit() *auditsvc.Service { return s.audit }
func (s *Service) Supervisor() *watcher.Supervisor { return s.supervisor }
func (s *Service) Loop() *loop.Loop { return s.loop }
func (s *Service) Compose() *compose.Service { return s.compose }
func (s *Service) Broadcaster() *broadcast.Broadcaster { return s.broadcaster }

// Handler returns the HTTP handler serving the REST API and the status stream.
func (s *Service) Handler() http.Handler { return s.api.Router() }

func (s *Service) init(ctx context.Context, options []Option) error {
	for _, option := range options {
		option(s)
	}
	cfg := s.config
	if cfg.Tracing.Enabled {
		if err := tracing.Init("overseer", "", cfg.Tracing.Output); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}

	var err error
	if s.audit, err = auditsvc.New(cfg.Vault); err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	s.closers = append(s.closers, s.audit.Close)
	if err = s.ensureBaseSetup(ctx); err != nil {
		return err
	}

	s.progress = progress.New()
	s.broadcaster = broadcast.New(
		broadcast.WithHeartbeat(cfg.Broadcast.HeartbeatInterval, cfg.Broadcast.MaxMissed),
		broadcast.WithQueueSize(cfg.Broadcast.QueueSize),
		broadcast.WithSnapshot(func(ctx context.Context) (interface{}, error) { return s.Status(ctx) }),
	)
	projector, err := taskstore.NewProjector(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create folder projection: %w", err)
	}
	s.tasks = taskstore.New(s.taskDAO, s.audit,
		taskstore.WithLocker(s.locker),
		taskstore.WithProjector(projector),
		taskstore.WithProgress(s.progress),
		taskstore.WithMaxRetries(cfg.Approval.MaxRetries),
		taskstore.WithListener(func(aTask *task.Task, tr *task.Transition) {
			s.broadcaster.Publish(broadcast.NewEvent(broadcast.TypeTaskUpdated, map[string]interface{}{
				"task_id": aTask.ID, "title": aTask.Title, "category": aTask.Category,
				"from": tr.From, "to": tr.To, "actor": tr.Actor, "note": tr.Note,
			}))
		}),
	)

	gateOptions := []approval.Option{
		approval.WithPolicy(policy.NewTable(cfg.Policies)),
		approval.WithDryRun(cfg.DryRun),
		approval.WithTimeout(cfg.Approval.Timeout),
		approval.WithRetryDelay(cfg.Approval.RetryDelay, cfg.Approval.RetryMaxDelay),
		approval.WithListener(func(kind string, item *approval.Item) {
			s.broadcaster.Publish(broadcast.NewEvent(broadcast.TypeApproval, map[string]interface{}{
				"kind": kind, "task_id": item.TaskID, "category": item.Category, "title": item.Title,
			}))
		}),
	}
	for category, hook := range s.hooks {
		gateOptions = append(gateOptions, approval.WithHook(category, hook))
	}
	s.gate = approval.New(s.tasks, s.audit, gateOptions...)

	if err = s.spoolWatchers(ctx); err != nil {
		return err
	}
	watcherOptions := []watcher.Option{
		watcher.WithStaleness(cfg.Watchers.Staleness),
		watcher.WithStopTimeout(cfg.Watchers.StopTimeout),
		watcher.WithMaxMissedChecks(cfg.Watchers.MaxMissedChecks),
		watcher.WithHealthInterval(cfg.Watchers.HealthInterval),
		watcher.WithListener(func(w *model.Watcher) {
			s.broadcaster.Publish(broadcast.NewEvent(broadcast.TypeWatcherUpdated, w))
		}),
	}
	if s.resolver != nil {
		watcherOptions = append(watcherOptions, watcher.WithResolver(s.resolver))
	}
	if s.supervisor, err = watcher.New(s.tasks, s.audit, s.registrations, watcherOptions...); err != nil {
		return err
	}

	if s.drafter == nil {
		s.drafter = loop.DrafterFunc(genericDraft)
	}
	s.loop = loop.New(s.tasks, s.gate, s.drafter, s.audit,
		loop.WithInterval(cfg.Loop.Interval),
		loop.WithListener(func(status loop.Status) {
			s.broadcaster.Publish(broadcast.NewEvent(broadcast.TypeLoopState, status))
		}),
	)
	s.compose = compose.New(s.tasks, s.gate)
	s.audit.OnAppend(func(entry *audit.Entry) {
		s.broadcaster.Publish(broadcast.NewEvent(broadcast.TypeAudit, entry))
	})

	if err = s.tasks.Load(ctx); err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	if recovered, err := s.gate.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover approval queue: %w", err)
	} else if recovered > 0 {
		s.logger.WithField("tasks", recovered).Info("approval queue recovered")
	}
	s.api = api.New(&api.Services{
		Tasks:       s.tasks,
		Gate:        s.gate,
		Audit:       s.audit,
		Supervisor:  s.supervisor,
		Loop:        s.loop,
		Compose:     s.compose,
		Broadcaster: s.broadcaster,
		Status:      func(ctx context.Context) (interface{}, error) { return s.Status(ctx) },
	})
	return nil
}

func (s *Service) ensureBaseSetup(ctx context.Context) error {
	cfg := s.config
	if s.taskDAO == nil {
		switch cfg.Store.Backend {
		case BackendMemory:
			s.taskDAO = taskmemory.New()
		case BackendPostgres:
			store, err := postgres.New(ctx, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect task store: %w", err)
			}
			if err = store.RunMigrations(ctx); err != nil {
				store.Close()
				return fmt.Errorf("failed to migrate task store: %w", err)
			}
			s.closers = append(s.closers, func() error { store.Close(); return nil })
			s.taskDAO = store
		default:
			store, err := taskfs.New(path.Join(cfg.Vault, TaskRecordFolder))
			if err != nil {
				return fmt.Errorf("failed to open task store: %w", err)
			}
			s.taskDAO = store
		}
	}
	if s.locker == nil {
		switch cfg.Lock.Backend {
		case BackendRedis:
			locker := lock.NewRedis(cfg.Lock.Addr, cfg.Lock.Password, cfg.Lock.DB, cfg.Lock.TTL)
			s.closers = append(s.closers, locker.Close)
			s.locker = locker
		default:
			s.locker = lock.NewMemory()
		}
	}
	return nil
}

func (s *Service) spoolWatchers(ctx context.Context) error {
	fs := afs.New()
	for _, spoolConfig := range s.config.Watchers.Spool {
		unit, err := spool.New(ctx, fs, s.config.Vault, spoolConfig.Name, spoolConfig.Interval)
		if err != nil {
			return fmt.Errorf("failed to create spool watcher %s: %w", spoolConfig.Name, err)
		}
		var secret *watcher.SecretRef
		if spoolConfig.SecretURL != "" {
			secret = &watcher.SecretRef{URL: spoolConfig.SecretURL, Key: spoolConfig.SecretKey}
		}
		s.registrations = append(s.registrations, &watcher.Registration{Unit: unit, Category: task.Category(spoolConfig.Category), Secret: secret})
	}
	return nil
}

// genericDraft turns a generic task into a plain text draft; other
// categories need an external drafter.
func genericDraft(_ context.Context, aTask *task.Task) (*task.Draft, error) {
	if aTask.Category != task.CategoryGeneric {
		return nil, fmt.Errorf("no drafter configured for %s", aTask.Category)
	}
	text := aTask.Text("content")
	if text == "" {
		text = aTask.Title
	}
	return &task.Draft{Category: task.CategoryGeneric, Text: text}, nil
}

// Run serves HTTP and drives the background loops until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.broadcaster.Run(ctx) }()
	go func() { defer wg.Done(); s.supervisor.Run(ctx) }()
	stopEscalator := approval.RunEscalator(ctx, s.gate, s.config.Approval.EscalationInterval)
	defer stopEscalator()
	stopDecider := approval.AutoDecider(ctx, s.gate, s.gate.PolicyDecision, s.config.Approval.EscalationInterval)
	defer stopDecider()

	if s.config.Watchers.AutoStart {
		if err := s.supervisor.StartAll(ctx); err != nil {
			s.logger.WithError(err).Warn("some watchers failed to start")
		}
	}
	if s.config.Loop.AutoStart {
		if err := s.loop.Start(ctx, task.ActorSystem); err != nil {
			s.logger.WithError(err).Warn("failed to start triage loop")
		}
	}

	server := &http.Server{Addr: s.config.HTTP.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{"addr": s.config.HTTP.Addr, "vault": s.config.Vault, "dry_run": s.config.DryRun}).Info("control plane listening")
		errs <- server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if stopErr := s.loop.Stop(shutdownCtx, task.ActorSystem); stopErr != nil {
		s.logger.WithError(stopErr).Warn("failed to stop triage loop")
	}
	if stopErr := s.supervisor.StopAll(shutdownCtx); stopErr != nil {
		s.logger.WithError(stopErr).Warn("failed to stop watchers")
	}
	cancel()
	wg.Wait()
	return err
}

// Close releases stores and the audit log.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// New creates the control plane from cfg.
func New(ctx context.Context, cfg *Config, options ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ret := &Service{config: cfg, logger: log.With("overseer")}
	if err := ret.init(ctx, options); err != nil {
		_ = ret.Close()
		return nil, err
	}
	return ret, nil
}
