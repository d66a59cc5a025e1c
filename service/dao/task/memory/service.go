package memory

import (
	"context"

	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/dao/store"
	taskdao "github.com/viant/overseer/service/dao/task"
)

// Service keeps task records in memory.
type Service struct {
	*store.MemoryStore[string, task.Task]
}

// List returns matching tasks ordered by creation time.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	tasks, err := s.MemoryStore.List(ctx, parameters...)
	if err != nil {
		return nil, err
	}
	taskdao.SortByCreated(tasks)
	return tasks, nil
}

var _ dao.Service[string, task.Task] = (*Service)(nil)

// New creates an in-memory task DAO.
func New() *Service {
	return &Service{MemoryStore: store.NewMemoryStore[string, task.Task](
		func(t *task.Task) string { return t.ID },
		store.WithClone[string, task.Task]((*task.Task).Clone),
		store.WithFilter[string, task.Task](taskdao.Match),
	)}
}
