package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	"github.com/viant/overseer/service/approval"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/compose"
	"github.com/viant/overseer/service/dao/task/memory"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/service/watcher"
)

type idleUnit struct{ name string }

func (u *idleUnit) Name() string { return u.name }

func (u *idleUnit) Run(ctx context.Context, sink watcher.Sink) error {
	sink.Heartbeat()
	<-ctx.Done()
	return ctx.Err()
}

type harness struct {
	server *httptest.Server
	tasks  *taskstore.Service
	posted int32
}

func newHarness(t *testing.T) *harness {
	auditLog, err := auditsvc.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })
	tasks := taskstore.New(memory.New(), auditLog)
	h := &harness{tasks: tasks}
	hook := approval.HookFunc(func(ctx context.Context, item *approval.Item) (*approval.Result, error) {
		atomic.AddInt32(&h.posted, 1)
		return &approval.Result{Summary: "posted", ExternalID: "tw-1"}, nil
	})
	gate := approval.New(tasks, auditLog, approval.WithRetryDelay(0, 0), approval.WithHook(task.CategoryTwitter, hook))
	supervisor, err := watcher.New(tasks, auditLog, []*watcher.Registration{{Unit: &idleUnit{name: "gmail"}, Category: task.CategoryEmail}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = supervisor.StopAll(context.Background()) })
	drafter := loop.DrafterFunc(func(ctx context.Context, aTask *task.Task) (*task.Draft, error) {
		return &task.Draft{Category: task.CategoryGeneric, Text: aTask.Title}, nil
	})
	ralph := loop.New(tasks, gate, drafter, auditLog)
	t.Cleanup(func() { _ = ralph.Stop(context.Background(), "test") })

	srv := New(&Services{
		Tasks:       tasks,
		Gate:        gate,
		Audit:       auditLog,
		Supervisor:  supervisor,
		Loop:        ralph,
		Compose:     compose.New(tasks, gate),
		Broadcaster: broadcast.New(),
		Status: func(ctx context.Context) (interface{}, error) {
			return map[string]interface{}{"events": []interface{}{}}, nil
		},
	})
	h.server = httptest.NewServer(srv.Router())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, target interface{}) int {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Operator", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestServer_Healthz(t *testing.T) {
	h := newHarness(t)
	var payload map[string]string
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil, &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/status", nil, nil))
}

func TestServer_ComposeApprove(t *testing.T) {
	h := newHarness(t)

	var composed compose.Result
	status := h.do(t, http.MethodPost, "/compose", &compose.Request{Platform: "twitter", Content: "Shipping v2 today"}, &composed)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, composed.Task)
	assert.Equal(t, task.StatusPendingApproval, composed.Task.Status)
	assert.Equal(t, "alice", composed.Task.History[0].Actor)

	var pending struct {
		Items []*approval.Item `json:"items"`
		Count int              `json:"count"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/approvals/pending", nil, &pending))
	assert.Equal(t, 1, pending.Count)

	var approved task.Task
	status = h.do(t, http.MethodPost, "/approvals/approve", map[string]interface{}{"filename": composed.Task.ID + ".json", "approved": true}, &approved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, task.StatusDone, approved.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.posted))

	var again errorResponse
	status = h.do(t, http.MethodPost, "/approvals/approve", map[string]interface{}{"filename": composed.Task.ID, "approved": true}, &again)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_pending", again.Code)

	var folder struct {
		Folder string       `json:"folder"`
		Tasks  []*task.Task `json:"tasks"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/vault/folder/done", nil, &folder))
	assert.Equal(t, "Done", folder.Folder)
	assert.Len(t, folder.Tasks, 1)

	var fetched task.Task
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/tasks/"+composed.Task.ID, nil, &fetched))
	assert.Equal(t, composed.Task.ID, fetched.ID)

	var audited struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/audit?action=task_composed", nil, &audited))
	assert.Equal(t, 1, audited.Count)

	var stats auditsvc.Stats
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/audit/stats?days=1", nil, &stats))
	assert.True(t, stats.Total > 0)
}

func TestServer_Reject(t *testing.T) {
	h := newHarness(t)
	var composed compose.Result
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/compose", &compose.Request{Platform: "twitter", Content: "Hot take"}, &composed))

	var rejected task.Task
	status := h.do(t, http.MethodPost, "/approvals/approve", map[string]interface{}{"filename": composed.Task.ID, "approved": false, "reason": "off brand"}, &rejected)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, task.StatusRejected, rejected.Status)
	assert.Equal(t, "off brand", rejected.Last().Note)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.posted))
}

func TestServer_Errors(t *testing.T) {
	h := newHarness(t)
	var testCases = []struct {
		description string
		method      string
		path        string
		body        interface{}
		status      int
		code        string
	}{
		{description: "unknown folder", method: http.MethodGet, path: "/vault/folder/archive", status: http.StatusBadRequest, code: "bad_request"},
		{description: "unknown task", method: http.MethodGet, path: "/tasks/missing", status: http.StatusNotFound, code: "not_found"},
		{description: "missing approved flag", method: http.MethodPost, path: "/approvals/approve", body: map[string]string{"filename": "x"}, status: http.StatusBadRequest, code: "bad_request"},
		{description: "unknown approval", method: http.MethodPost, path: "/approvals/approve", body: map[string]interface{}{"filename": "x", "approved": true}, status: http.StatusConflict, code: "not_pending"},
		{description: "invalid draft", method: http.MethodPost, path: "/compose", body: &compose.Request{Platform: "twitter"}, status: http.StatusUnprocessableEntity, code: "invalid_draft"},
		{description: "unknown watcher", method: http.MethodPost, path: "/watchers/fax/start", status: http.StatusNotFound, code: "not_found"},
		{description: "pause stopped loop", method: http.MethodPost, path: "/ralph/pause", status: http.StatusConflict, code: "invalid_state"},
		{description: "bad limit", method: http.MethodGet, path: "/audit?limit=abc", status: http.StatusBadRequest, code: "bad_request"},
	}
	for _, testCase := range testCases {
		var payload errorResponse
		status := h.do(t, testCase.method, testCase.path, testCase.body, &payload)
		assert.Equal(t, testCase.status, status, testCase.description)
		assert.Equal(t, testCase.code, payload.Code, testCase.description)
	}
}

func TestServer_Watchers(t *testing.T) {
	h := newHarness(t)
	var state model.Watcher
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/watchers/gmail/start", nil, &state))
	assert.Equal(t, model.HealthRunning, state.Health)

	var all []*model.Watcher
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/watchers/stop-all", nil, &all))
	require.Len(t, all, 1)
	assert.Equal(t, model.HealthStopped, all[0].Health)
}

func TestServer_Loop(t *testing.T) {
	h := newHarness(t)
	var status loop.Status
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/ralph/start", nil, &status))
	assert.Equal(t, loop.StateRunning, status.State)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/ralph/pause", nil, &status))
	assert.Equal(t, loop.StatePaused, status.State)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/ralph/resume", nil, &status))
	assert.Equal(t, loop.StateRunning, status.State)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/ralph/stop", nil, &status))
	assert.Equal(t, loop.StateStopped, status.State)
}
