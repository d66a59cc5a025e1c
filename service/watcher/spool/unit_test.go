package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/overseer/model/task"
	model "github.com/viant/overseer/model/watcher"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/dao/task/memory"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/service/watcher"
)

func TestUnit_FeedsSupervisor(t *testing.T) {
	vault := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditLog, err := auditsvc.New(vault)
	require.NoError(t, err)
	defer auditLog.Close()
	tasks := taskstore.New(memory.New(), auditLog)

	unit, err := New(ctx, afs.New(), vault, "gmail", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "gmail", unit.Name())
	supervisor, err := watcher.New(tasks, auditLog, []*watcher.Registration{{Unit: unit, Category: task.CategoryEmail}})
	require.NoError(t, err)
	go supervisor.Run(ctx)
	require.NoError(t, supervisor.Start(ctx, "gmail"))
	defer supervisor.StopAll(context.Background())

	dir := Dir(vault, "gmail")
	staged := filepath.Join(dir, "m-1.tmp")
	require.NoError(t, os.WriteFile(staged, []byte(`{"source_id":"m-1","title":"Invoice request","payload":{"from":"client@example.com"}}`), 0o644))
	require.NoError(t, os.Rename(staged, filepath.Join(dir, "m-1.json")))

	assert.Eventually(t, func() bool {
		aTask, err := tasks.Get(ctx, "gmail-m-1")
		return err == nil && aTask.Status == task.StatusInbox
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "done", "m-1.json"))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	w, err := supervisor.Get("gmail")
	require.NoError(t, err)
	assert.Equal(t, model.HealthRunning, w.Health)
	assert.NotNil(t, w.LastHeartbeat)
}
