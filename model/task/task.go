package task

import (
	"time"
)

// Category identifies the originating channel of a task.
type Category string

const (
	CategoryEmail    Category = "email"
	CategoryWhatsApp Category = "whatsapp"
	CategoryLinkedIn Category = "linkedin"
	CategoryTwitter  Category = "twitter"
	CategoryGeneric  Category = "generic"
)

// Categories lists every known category.
var Categories = []Category{CategoryEmail, CategoryWhatsApp, CategoryLinkedIn, CategoryTwitter, CategoryGeneric}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	for _, candidate := range Categories {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsSendClass reports whether executing a task of this category performs an
// irreversible outbound action.
func (c Category) IsSendClass() bool {
	return c == CategoryEmail || c == CategoryWhatsApp || c == CategoryLinkedIn || c == CategoryTwitter
}

// Actor values used when no named watcher or operator applies.
const (
	ActorSystem = "system"
	ActorHuman  = "human"
)

// Transition is one entry of the append-only task history.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
}

// Task is a unit of work that travels through the approval-gated lifecycle.
type Task struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Category      Category               `json:"category"`
	Status        Status                 `json:"status"`
	CorrelationID string                 `json:"correlation_id"`
	Source        string                 `json:"source,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	RetryCount    int                    `json:"retry_count"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Draft         *Draft                 `json:"draft,omitempty"`
	History       []*Transition          `json:"history"`
}

// Version is the length of the history; every successful transition
// increments it by exactly one.
func (t *Task) Version() int { return len(t.History) }

// Last returns the most recent history entry or nil.
func (t *Task) Last() *Transition {
	if len(t.History) == 0 {
		return nil
	}
	return t.History[len(t.History)-1]
}

// Append records a transition and moves the task into its target state.
func (t *Task) Append(tr *Transition) {
	t.History = append(t.History, tr)
	t.Status = tr.To
	t.UpdatedAt = tr.Timestamp
}

// Consistent reports whether Status mirrors the last history entry.
func (t *Task) Consistent() bool {
	last := t.Last()
	return last != nil && last.To == t.Status
}

// Clone returns a deep copy safe to hand out to callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	ret := *t
	ret.History = make([]*Transition, len(t.History))
	for i, h := range t.History {
		entry := *h
		ret.History[i] = &entry
	}
	if t.Payload != nil {
		ret.Payload = copyMap(t.Payload)
	}
	ret.Draft = t.Draft.Clone()
	return &ret
}

func copyMap(source map[string]interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(source))
	for k, v := range source {
		ret[k] = copyValue(v)
	}
	return ret
}

func copyValue(value interface{}) interface{} {
	switch actual := value.(type) {
	case map[string]interface{}:
		return copyMap(actual)
	case []interface{}:
		ret := make([]interface{}, len(actual))
		for i, item := range actual {
			ret[i] = copyValue(item)
		}
		return ret
	case []string:
		return append([]string(nil), actual...)
	}
	return value
}

// EnteredAt returns when the task last moved into status, or the zero time.
func (t *Task) EnteredAt(status Status) time.Time {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].To == status {
			return t.History[i].Timestamp
		}
	}
	return time.Time{}
}

// Text returns a string payload value or "".
func (t *Task) Text(key string) string {
	if t.Payload == nil {
		return ""
	}
	if v, ok := t.Payload[key].(string); ok {
		return v
	}
	return ""
}
