package api

import (
	"errors"
	"net/http"

	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/dao"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/watcher"
)

// ErrBadRequest marks malformed input.
var ErrBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps a domain error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var transient *approval.TransientExecutionError
	var permanent *watcher.PermanentConfigError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, dao.ErrNotFound), errors.Is(err, watcher.ErrUnknownWatcher):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, task.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, approval.ErrNotPending):
		return http.StatusConflict, "not_pending"
	case errors.Is(err, dao.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, loop.ErrInvalidState), errors.Is(err, watcher.ErrInErrorState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, task.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, task.ErrMissingRequiredNote):
		return http.StatusUnprocessableEntity, "missing_note"
	case errors.Is(err, task.ErrInvalidDraft), errors.Is(err, watcher.ErrInvalidEvent):
		return http.StatusUnprocessableEntity, "invalid_draft"
	case errors.Is(err, approval.ErrBlockedByPolicy):
		return http.StatusUnprocessableEntity, "blocked_by_policy"
	case errors.As(err, &transient):
		return http.StatusFailedDependency, "execution_failed"
	case errors.As(err, &permanent):
		return http.StatusFailedDependency, "config_error"
	}
	return http.StatusInternalServerError, "internal"
}
