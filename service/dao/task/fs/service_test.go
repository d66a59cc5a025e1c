package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srv, err := New(dir)
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := &task.Task{ID: "email-1", Title: "Invoice", Category: task.CategoryEmail, Status: task.StatusInbox, CreatedAt: created}
	second := &task.Task{ID: "tw-1", Title: "Mention", Category: task.CategoryTwitter, Status: task.StatusNeedsAction, CreatedAt: created.Add(time.Minute)}

	assert.ErrorIs(t, srv.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, srv.Save(ctx, &task.Task{}), dao.ErrInvalidID)
	require.NoError(t, srv.Save(ctx, second))
	require.NoError(t, srv.Save(ctx, first))

	info, err := os.Stat(filepath.Join(dir, "email-1.json"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	loaded, err := srv.Load(ctx, "email-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice", loaded.Title)

	loaded.Title = "Invoice #42"
	require.NoError(t, srv.Save(ctx, loaded))
	reloaded, err := srv.Load(ctx, "email-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice #42", reloaded.Title)

	_, err = srv.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	all, err := srv.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "email-1", all[0].ID)

	pending, err := srv.List(ctx, dao.NewParameter(dao.ParamStatus, string(task.StatusNeedsAction)))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tw-1", pending[0].ID)

	require.NoError(t, srv.Delete(ctx, "tw-1"))
	assert.ErrorIs(t, srv.Delete(ctx, "tw-1"), dao.ErrNotFound)
}
