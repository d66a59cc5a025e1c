package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		to     Status
		expect bool
	}{
		{name: "inbox to needs action", from: StatusInbox, to: StatusNeedsAction, expect: true},
		{name: "needs action to pending", from: StatusNeedsAction, to: StatusPendingApproval, expect: true},
		{name: "pending to approved", from: StatusPendingApproval, to: StatusApproved, expect: true},
		{name: "pending to rejected", from: StatusPendingApproval, to: StatusRejected, expect: true},
		{name: "approved to done", from: StatusApproved, to: StatusDone, expect: true},
		{name: "retry edge", from: StatusApproved, to: StatusNeedsAction, expect: true},
		{name: "exhausted", from: StatusNeedsAction, to: StatusFailed, expect: true},
		{name: "skip approval", from: StatusNeedsAction, to: StatusApproved, expect: false},
		{name: "inbox to done", from: StatusInbox, to: StatusDone, expect: false},
		{name: "done is terminal", from: StatusDone, to: StatusNeedsAction, expect: false},
		{name: "rejected is terminal", from: StatusRejected, to: StatusPendingApproval, expect: false},
		{name: "failed is terminal", from: StatusFailed, to: StatusNeedsAction, expect: false},
		{name: "self loop", from: StatusApproved, to: StatusApproved, expect: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, from := range Statuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range Statuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("pending_approval")
	assert.True(t, ok)
	assert.Equal(t, StatusPendingApproval, s)
	_, ok = ParseStatus("Archive")
	assert.False(t, ok)
}

func TestTask_AppendAndClone(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	aTask := &Task{ID: "t1", Payload: map[string]interface{}{"body": "hi"}}
	aTask.Append(&Transition{Timestamp: now, To: StatusInbox, Actor: ActorSystem})
	aTask.Append(&Transition{Timestamp: now.Add(time.Second), From: StatusInbox, To: StatusNeedsAction, Note: "triage", Actor: ActorHuman})

	assert.Equal(t, 2, aTask.Version())
	assert.Equal(t, StatusNeedsAction, aTask.Status)
	assert.True(t, aTask.Consistent())

	clone := aTask.Clone()
	clone.History[0].Note = "changed"
	clone.Payload["body"] = "changed"
	assert.Equal(t, "", aTask.History[0].Note)
	assert.Equal(t, "hi", aTask.Text("body"))
}

func TestDraft_Validate(t *testing.T) {
	tests := []struct {
		name    string
		draft   *Draft
		wantErr bool
	}{
		{
			name:  "valid email",
			draft: &Draft{Category: CategoryEmail, Email: &EmailDraft{Recipient: "a@b.com", Subject: "Re: hi", Body: "Thanks"}},
		},
		{
			name:    "email without subject",
			draft:   &Draft{Category: CategoryEmail, Email: &EmailDraft{Recipient: "a@b.com", Body: "Thanks"}},
			wantErr: true,
		},
		{
			name:    "email variant mismatch",
			draft:   &Draft{Category: CategoryEmail, Post: &PostDraft{Text: "x"}},
			wantErr: true,
		},
		{
			name:  "tweet at limit",
			draft: &Draft{Category: CategoryTwitter, Post: &PostDraft{Text: strings.Repeat("a", TwitterLimit)}},
		},
		{
			name:    "tweet over limit",
			draft:   &Draft{Category: CategoryTwitter, Post: &PostDraft{Text: strings.Repeat("a", TwitterLimit+1)}},
			wantErr: true,
		},
		{
			name:  "linkedin multibyte counts runes",
			draft: &Draft{Category: CategoryLinkedIn, Post: &PostDraft{Text: strings.Repeat("é", LinkedInLimit)}},
		},
		{
			name:    "whatsapp without recipient",
			draft:   &Draft{Category: CategoryWhatsApp, Message: &MessageDraft{Text: "hello"}},
			wantErr: true,
		},
		{
			name:    "two variants",
			draft:   &Draft{Category: CategoryWhatsApp, Message: &MessageDraft{Recipient: "+1", Text: "x"}, Post: &PostDraft{Text: "y"}},
			wantErr: true,
		},
		{
			name:  "generic text",
			draft: &Draft{Category: CategoryGeneric, Text: "file the invoice"},
		},
		{
			name:    "nil",
			draft:   nil,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidDraft), "%v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTask_ClonePreservesPayloadTypes(t *testing.T) {
	aTask := &Task{ID: "t1", Payload: map[string]interface{}{
		"attempts": 3,
		"thread":   map[string]interface{}{"size": int64(7)},
		"labels":   []interface{}{"a", 2},
	}}
	clone := aTask.Clone()
	assert.Equal(t, 3, clone.Payload["attempts"])
	assert.Equal(t, int64(7), clone.Payload["thread"].(map[string]interface{})["size"])
	assert.Equal(t, 2, clone.Payload["labels"].([]interface{})[1])

	clone.Payload["thread"].(map[string]interface{})["size"] = int64(8)
	clone.Payload["labels"].([]interface{})[0] = "b"
	assert.Equal(t, int64(7), aTask.Payload["thread"].(map[string]interface{})["size"])
	assert.Equal(t, "a", aTask.Payload["labels"].([]interface{})[0])
}
