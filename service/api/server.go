// Package api exposes the control plane over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/approval"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/compose"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/service/watcher"
	"github.com/viant/overseer/telemetry"
	"github.com/viant/overseer/tracing"
)

// DefaultOperator is used when a request carries no X-Operator header.
const DefaultOperator = "dashboard"

// DefaultAuditLimit caps GET /audit when no limit is given.
const DefaultAuditLimit = 100

// StatusFunc builds the status document.
type StatusFunc func(ctx context.Context) (interface{}, error)

// Server wires HTTP handlers for the control plane.
type Server struct {
	tasks       *taskstore.Service
	gate        *approval.Service
	audit       *auditsvc.Service
	supervisor  *watcher.Supervisor
	loop        *loop.Loop
	compose     *compose.Service
	broadcaster *broadcast.Broadcaster
	status      StatusFunc
	logger      *logrus.Entry
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())
	if s.broadcaster != nil {
		r.Handle("/ws", s.broadcaster.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.trace)
		r.Get("/status", s.handleStatus)

		r.Post("/watchers/start-all", s.handleWatchers(func(ctx context.Context) error { return s.supervisor.StartAll(ctx) }))
		r.Post("/watchers/stop-all", s.handleWatchers(func(ctx context.Context) error { return s.supervisor.StopAll(ctx) }))
		r.Post("/watchers/{name}/start", s.handleWatcher(s.supervisor.Start))
		r.Post("/watchers/{name}/stop", s.handleWatcher(s.supervisor.Stop))
		r.Get("/watchers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.supervisor.List())
		})

		r.Get("/vault/folder/{folder}", s.handleFolder)
		r.Get("/tasks/{id}", s.handleTask)

		r.Get("/approvals/pending", s.handlePending)
		r.Post("/approvals/approve", s.handleDecision)

		r.Get("/audit", s.handleAudit)
		r.Get("/audit/stats", s.handleStats)
		r.Get("/audit/analytics", s.handleAnalytics)

		r.Post("/ralph/start", s.handleLoop(s.loop.Start))
		r.Post("/ralph/stop", s.handleLoop(s.loop.Stop))
		r.Post("/ralph/pause", s.handleLoop(s.loop.Pause))
		r.Post("/ralph/resume", s.handleLoop(s.loop.Resume))
		r.Get("/ralph", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.loop.Status())
		})

		r.Post("/compose", s.handleCompose)
	})
	return r
}

func (s *Server) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path, tracing.KindServer)
		span.WithAttributes(map[string]string{"http.method": r.Method, "http.path": r.URL.Path, "operator": operator(r)})
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		span.SetStatusFromHTTPCode(ww.Status())
		span.End()
		s.logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "status": ww.Status(), "elapsed": time.Since(started)}).Debug("request")
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	document, err := s.status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, document)
}

func (s *Server) handleWatchers(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.supervisor.List())
	}
}

func (s *Server) handleWatcher(fn func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := fn(r.Context(), name); err != nil {
			s.writeError(w, err)
			return
		}
		state, err := s.supervisor.Get(name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	status, ok := task.ParseStatus(folder)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: unknown folder %q", ErrBadRequest, folder))
		return
	}
	tasks, err := s.tasks.Folder(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folder": string(status), "tasks": tasks})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	aTask, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aTask)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.gate.ListPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

type decisionRequest struct {
	Filename string `json:"filename"`
	Approved *bool  `json:"approved"`
	Approver string `json:"approver,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid json", ErrBadRequest))
		return
	}
	id := strings.TrimSuffix(strings.TrimSpace(req.Filename), ".json")
	if id == "" || req.Approved == nil {
		s.writeError(w, fmt.Errorf("%w: filename and approved are required", ErrBadRequest))
		return
	}
	approver := req.Approver
	if approver == "" {
		approver = operator(r)
	}

	var (
		aTask *task.Task
		err   error
	)
	if *req.Approved {
		aTask, err = s.gate.Approve(r.Context(), id, approver)
	} else {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "rejected by " + approver
		}
		aTask, err = s.gate.Reject(r.Context(), id, approver, reason)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aTask)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), DefaultAuditLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	days, err := intParam(query.Get("days"), auditsvc.DefaultDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.audit.Query(r.Context(), auditsvc.Filter{
		Limit:         limit,
		Days:          days,
		Platform:      query.Get("platform"),
		Action:        query.Get("action"),
		Level:         audit.Level(query.Get("level")),
		CorrelationID: query.Get("correlation_id"),
		TaskID:        query.Get("task_id"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), auditsvc.DefaultDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.audit.Stats(r.Context(), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), auditsvc.DefaultDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	analytics, err := s.audit.Analytics(r.Context(), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleLoop(fn func(ctx context.Context, actor string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), operator(r)); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.loop.Status())
	}
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req compose.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid json", ErrBadRequest))
		return
	}
	result, err := s.compose.Compose(r.Context(), operator(r), &req)
	if err != nil {
		if result != nil {
			status, code := classify(err)
			writeJSON(w, status, map[string]interface{}{"error": err.Error(), "code": code, "task": result.Task})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func operator(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Operator")); v != "" {
		return v
	}
	return DefaultOperator
}

func intParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid number %q", ErrBadRequest, value)
	}
	if n == 0 {
		return fallback, nil
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// Services groups the components served by the API.
type Services struct {
	Tasks       *taskstore.Service
	Gate        *approval.Service
	Audit       *auditsvc.Service
	Supervisor  *watcher.Supervisor
	Loop        *loop.Loop
	Compose     *compose.Service
	Broadcaster *broadcast.Broadcaster
	Status      StatusFunc
}

// New constructs the API server.
func New(services *Services) *Server {
	return &Server{
		tasks:       services.Tasks,
		gate:        services.Gate,
		audit:       services.Audit,
		supervisor:  services.Supervisor,
		loop:        services.Loop,
		compose:     services.Compose,
		broadcaster: services.Broadcaster,
		status:      services.Status,
		logger:      log.With("api"),
	}
}
