package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
)

func TestService(t *testing.T) {
	dsn := os.Getenv("OVERSEER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OVERSEER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	srv, err := New(ctx, dsn)
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.RunMigrations(ctx))

	id := "test-" + idgen.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	aTask := &task.Task{ID: id, Title: "pg", Category: task.CategoryGeneric, Status: task.StatusInbox, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, srv.Save(ctx, aTask))

	aTask.Status = task.StatusNeedsAction
	require.NoError(t, srv.Save(ctx, aTask))

	loaded, err := srv.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNeedsAction, loaded.Status)

	listed, err := srv.List(ctx, dao.NewParameter(dao.ParamStatus, string(task.StatusNeedsAction)))
	require.NoError(t, err)
	found := false
	for _, candidate := range listed {
		found = found || candidate.ID == id
	}
	assert.True(t, found)

	require.NoError(t, srv.Delete(ctx, id))
	_, err = srv.Load(ctx, id)
	assert.ErrorIs(t, err, dao.ErrNotFound)
}
