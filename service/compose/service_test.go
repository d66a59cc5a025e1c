package compose

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/policy"
	"github.com/viant/overseer/service/approval"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/dao/task/memory"
	"github.com/viant/overseer/service/taskstore"
)

func newService(t *testing.T, options ...approval.Option) (*Service, *taskstore.Service, *auditsvc.Service) {
	auditLog, err := auditsvc.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })
	tasks := taskstore.New(memory.New(), auditLog)
	options = append([]approval.Option{approval.WithRetryDelay(0, 0)}, options...)
	return New(tasks, approval.New(tasks, auditLog, options...)), tasks, auditLog
}

func TestService_Compose(t *testing.T) {
	svc, _, auditLog := newService(t)
	ctx := context.Background()

	result, err := svc.Compose(ctx, "alice", &Request{Platform: "Twitter", Content: "Shipping v2 today", Link: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPendingApproval, result.Task.Status)
	assert.Equal(t, task.CategoryTwitter, result.Task.Category)
	assert.Equal(t, Source, result.Task.Source)
	assert.Equal(t, "Shipping v2 today", result.Task.Title)
	require.NotNil(t, result.Item)
	assert.Equal(t, task.TwitterLimit, result.Item.CharLimit)

	entries, err := auditLog.ByCorrelation(ctx, result.Task.CorrelationID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionTaskComposed, entries[0].Action)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, "composed by operator", entries[1].Detail("note"))
}

func TestService_ComposeAutoApproved(t *testing.T) {
	table := policy.NewTable(map[string]*policy.Config{"linkedin": {Mode: policy.ModeAuto}})
	hook := approval.HookFunc(func(ctx context.Context, item *approval.Item) (*approval.Result, error) {
		return &approval.Result{Summary: "posted"}, nil
	})
	svc, _, _ := newService(t, approval.WithPolicy(table), approval.WithHook(task.CategoryLinkedIn, hook))

	result, err := svc.Compose(context.Background(), "alice", &Request{Platform: "linkedin", Content: "We are hiring"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, result.Task.Status)
	assert.True(t, result.Item.AutoApproved)
}

func TestService_ComposeValidation(t *testing.T) {
	svc, tasks, _ := newService(t)
	ctx := context.Background()
	tests := []struct {
		name string
		req  *Request
	}{
		{name: "nil", req: nil},
		{name: "email without recipient", req: &Request{Platform: "email", Subject: "Hi", Content: "Body"}},
		{name: "tweet too long", req: &Request{Platform: "twitter", Content: strings.Repeat("x", 281)}},
		{name: "empty generic", req: &Request{Platform: "generic", Content: " "}},
		{name: "unknown platform", req: &Request{Platform: "fax", Content: "hello"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Compose(ctx, "alice", tc.req)
			assert.ErrorIs(t, err, task.ErrInvalidDraft)
		})
	}
	all, err := tasks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "invalid requests must not create tasks")
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Explicit", title(&Request{Title: " Explicit ", Subject: "s"}))
	assert.Equal(t, "Subject", title(&Request{Subject: "Subject", Content: "c"}))
	long := title(&Request{Content: strings.Repeat("word ", 30)})
	assert.Len(t, []rune(long), 60)
	assert.True(t, strings.HasSuffix(long, "..."))
}
