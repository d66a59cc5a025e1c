package overseer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	"github.com/viant/overseer/service/approval"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/compose"
	taskmemory "github.com/viant/overseer/service/dao/task/memory"
	"github.com/viant/overseer/service/watcher"
)

type emitter struct {
	name   string
	events []*model.RawEvent
}

func (e *emitter) Name() string { return e.name }

func (e *emitter) Run(ctx context.Context, sink watcher.Sink) error {
	sink.Heartbeat()
	for _, event := range e.events {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Vault = t.TempDir()
	cfg.Store.Backend = BackendMemory
	cfg.Approval.RetryDelay = 0
	cfg.Approval.RetryMaxDelay = 0
	return cfg
}

func TestService_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)
	unit := &emitter{name: "inbox", events: []*model.RawEvent{
		{SourceID: "m1", Title: "File the receipt", Category: "generic"},
		{SourceID: "m1", Title: "File the receipt", Category: "generic"},
	}}
	srv, err := New(ctx, cfg, WithWatcher(unit, task.CategoryGeneric, nil))
	require.NoError(t, err)
	defer srv.Close()

	go srv.Supervisor().Run(ctx)
	require.NoError(t, srv.Supervisor().StartAll(ctx))
	defer srv.Supervisor().StopAll(context.Background())

	require.Eventually(t, func() bool {
		inbox, err := srv.Tasks().Folder(ctx, task.StatusInbox)
		return err == nil && len(inbox) == 1
	}, 2*time.Second, 10*time.Millisecond)

	result, err := srv.Loop().Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Triaged)
	assert.Equal(t, 1, result.Drafted)

	pending, err := srv.Gate().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	done, err := srv.Gate().Approve(ctx, pending[0].TaskID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, done.Status)

	_, err = os.Stat(filepath.Join(cfg.Vault, string(task.StatusDone), done.ID+".json"))
	assert.NoError(t, err)

	status, err := srv.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Tasks[task.StatusDone])
	assert.Equal(t, 0, status.Tasks[task.StatusInbox])
	assert.Empty(t, status.Pending)
	require.Len(t, status.Watchers, 1)
	assert.Equal(t, model.HealthRunning, status.Watchers[0].Health)
	assert.NotEmpty(t, status.Events)

	entries, err := srv.Audit().Query(ctx, auditsvc.Filter{TaskID: done.ID, Action: audit.ActionTaskIngested, Days: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestService_RestartRecoversApprovals(t *testing.T) {
	var testCases = []struct {
		description string
		backend     string
		options     func() []Option
	}{
		{description: "filesystem", backend: BackendFS, options: func() []Option { return nil }},
		{description: "shared memory", backend: BackendMemory, options: func() func() []Option {
			shared := taskmemory.New()
			return func() []Option { return []Option{WithTaskDAO(shared)} }
		}()},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t)
			cfg.Store.Backend = testCase.backend

			first, err := New(ctx, cfg, testCase.options()...)
			require.NoError(t, err)
			composed, err := first.Compose().Compose(ctx, "alice", &compose.Request{Platform: "generic", Content: "File the March receipt"})
			require.NoError(t, err)
			rejected, err := first.Compose().Compose(ctx, "alice", &compose.Request{Platform: "generic", Content: "Archive the old thread"})
			require.NoError(t, err)
			require.NoError(t, first.Close())

			second, err := New(ctx, cfg, testCase.options()...)
			require.NoError(t, err)
			defer second.Close()

			status, err := second.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, status.Tasks[task.StatusPendingApproval])
			require.Len(t, status.Pending, 2)
			drafts := map[string]string{}
			for _, item := range status.Pending {
				drafts[item.TaskID] = item.Draft.Text
			}
			assert.Equal(t, "File the March receipt", drafts[composed.Task.ID])

			done, err := second.Gate().Approve(ctx, composed.Task.ID, "bob")
			require.NoError(t, err)
			assert.Equal(t, task.StatusDone, done.Status)
			_, err = second.Gate().Reject(ctx, rejected.Task.ID, "bob", "no longer needed")
			require.NoError(t, err)

			stored, err := second.Tasks().Get(ctx, composed.Task.ID)
			require.NoError(t, err)
			assert.Equal(t, task.StatusDone, stored.Status)
			assert.True(t, stored.Consistent())
			_, err = os.Stat(filepath.Join(cfg.Vault, string(task.StatusDone), composed.Task.ID+".json"))
			assert.NoError(t, err)
			_, err = second.Gate().Approve(ctx, composed.Task.ID, "bob")
			assert.ErrorIs(t, err, approval.ErrNotPending)
		})
	}
}

func TestService_StatusStream(t *testing.T) {
	ctx := context.Background()
	srv, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	subscription := srv.Broadcaster().Subscribe()
	defer srv.Broadcaster().Unsubscribe(subscription)
	require.NoError(t, srv.Loop().Start(ctx, "alice"))
	defer srv.Loop().Stop(ctx, "alice")

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !(seen[broadcast.TypeLoopState] && seen[broadcast.TypeAudit]) {
		select {
		case event := <-subscription.Events():
			seen[event.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestService_Handler(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer srv.Close()
	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
