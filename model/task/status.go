package task

import "strings"

// Status represents a lifecycle state. The string value doubles as the vault
// folder name the task is projected into.
type Status string

const (
	StatusInbox           Status = "Inbox"
	StatusNeedsAction     Status = "Needs_Action"
	StatusPendingApproval Status = "Pending_Approval"
	StatusApproved        Status = "Approved"
	StatusDone            Status = "Done"
	StatusRejected        Status = "Rejected"
	StatusFailed          Status = "Failed"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{
	StatusInbox,
	StatusNeedsAction,
	StatusPendingApproval,
	StatusApproved,
	StatusDone,
	StatusRejected,
	StatusFailed,
}

// transitions is the complete set of permitted edges. Approved->Needs_Action
// is taken only by the retry policy after a failed execution.
var transitions = map[Status][]Status{
	StatusInbox:           {StatusNeedsAction},
	StatusNeedsAction:     {StatusPendingApproval, StatusFailed},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusDone, StatusNeedsAction},
}

// noteRequired lists target states that cannot be entered without a note.
var noteRequired = map[Status]bool{
	StatusNeedsAction:     true,
	StatusPendingApproval: true,
	StatusDone:            true,
	StatusRejected:        true,
}

// CanTransition reports whether from->to is a permitted edge.
func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// RequiresNote reports whether entering s requires a non-empty note.
func (s Status) RequiresNote() bool { return noteRequired[s] }

// IsTerminal reports whether no edge leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusRejected || s == StatusFailed
}

// IsValid reports whether s is a known state.
func (s Status) IsValid() bool {
	for _, candidate := range Statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStatus resolves a folder or status name, case-insensitively.
func ParseStatus(name string) (Status, bool) {
	for _, candidate := range Statuses {
		if strings.EqualFold(string(candidate), name) {
			return candidate, true
		}
	}
	return "", false
}
