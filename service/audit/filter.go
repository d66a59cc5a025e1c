package audit

import (
	"github.com/viant/overseer/model/audit"
)

// DefaultDays is the query window used when none is given.
const DefaultDays = 7

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Limit         int
	Days          int
	Platform      string
	Action        string
	Level         audit.Level
	CorrelationID string
	TaskID        string
}

func (f *Filter) days() int {
	if f.Days <= 0 {
		return DefaultDays
	}
	return f.Days
}

func (f *Filter) match(entry *audit.Entry) bool {
	switch {
	case f.Platform != "" && entry.Platform != f.Platform:
		return false
	case f.Action != "" && entry.Action != f.Action:
		return false
	case f.Level != "" && entry.Level != f.Level:
		return false
	case f.CorrelationID != "" && entry.CorrelationID != f.CorrelationID:
		return false
	case f.TaskID != "" && entry.TaskID != f.TaskID:
		return false
	}
	return true
}
