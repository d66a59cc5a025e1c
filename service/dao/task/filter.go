package task

import (
	"sort"

	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
)

// Match reports whether aTask satisfies the status and category parameters.
func Match(aTask *task.Task, parameters ...*dao.Parameter) bool {
	if status, ok := dao.Lookup(dao.ParamStatus, parameters...); ok && string(aTask.Status) != status {
		return false
	}
	if category, ok := dao.Lookup(dao.ParamCategory, parameters...); ok && string(aTask.Category) != category {
		return false
	}
	return true
}

// SortByCreated orders tasks oldest first, ties broken by id.
func SortByCreated(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
