// Package compose turns operator authored content into tasks that go
// through the same approval path as watcher tasks.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/taskstore"
)

// Source is recorded on composed tasks.
const Source = "dashboard"

// Request is the dashboard compose form.
type Request struct {
	Platform  string `json:"platform"`
	Content   string `json:"content"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Link      string `json:"link,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Result is the created task and its approval item.
type Result struct {
	Task *task.Task     `json:"task"`
	Item *approval.Item `json:"item,omitempty"`
}

// TaskStore is the subset of the lifecycle store used by compose.
type TaskStore interface {
	Create(ctx context.Context, req *taskstore.CreateRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	Transition(ctx context.Context, id string, to task.Status, note string, options ...taskstore.TransitionOption) (*task.Task, error)
}

// Gate is the subset of the approval gate used by compose.
type Gate interface {
	Enqueue(ctx context.Context, aTask *task.Task, draft *task.Draft) (*approval.Item, error)
}

// Service composes tasks.
type Service struct {
	tasks TaskStore
	gate  Gate
}

// Draft builds and validates the draft described by req.
func Draft(req *Request) (*task.Draft, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is empty", task.ErrInvalidDraft)
	}
	category := task.Category(strings.ToLower(strings.TrimSpace(req.Platform)))
	draft := &task.Draft{Category: category, Intent: req.Intent}
	switch category {
	case task.CategoryEmail:
		draft.Email = &task.EmailDraft{Recipient: req.Recipient, Subject: req.Subject, Body: req.Content}
	case task.CategoryWhatsApp:
		draft.Message = &task.MessageDraft{Recipient: req.Recipient, Text: req.Content}
	case task.CategoryLinkedIn, task.CategoryTwitter:
		draft.Post = &task.PostDraft{Text: req.Content, Link: req.Link, ImageURL: req.ImageURL}
	default:
		draft.Text = req.Content
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft, nil
}

// Compose validates the request, creates the task in Inbox, moves it to
// Needs_Action and enqueues the draft.
func (s *Service) Compose(ctx context.Context, operator string, req *Request) (*Result, error) {
	draft, err := Draft(req)
	if err != nil {
		return nil, err
	}
	if operator == "" {
		operator = task.ActorHuman
	}
	payload := map[string]interface{}{"content": req.Content}
	for key, value := range map[string]string{"recipient": req.Recipient, "subject": req.Subject, "image_url": req.ImageURL, "link": req.Link} {
		if value != "" {
			payload[key] = value
		}
	}
	aTask, err := s.tasks.Create(ctx, &taskstore.CreateRequest{
		Title:    title(req),
		Category: draft.Category,
		Source:   Source,
		Payload:  payload,
		Actor:    operator,
		Action:   audit.ActionTaskComposed,
	})
	if err != nil {
		return nil, err
	}
	if aTask, err = s.tasks.Transition(ctx, aTask.ID, task.StatusNeedsAction, "composed by operator", taskstore.WithActor(operator)); err != nil {
		return nil, err
	}
	item, err := s.gate.Enqueue(ctx, aTask, draft)
	current, getErr := s.tasks.Get(ctx, aTask.ID)
	if getErr != nil {
		current = aTask
	}
	return &Result{Task: current, Item: item}, err
}

func title(req *Request) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	if req.Subject != "" {
		return req.Subject
	}
	text := strings.Join(strings.Fields(req.Content), " ")
	if runes := []rune(text); len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return text
}

// New creates the compose service.
func New(tasks TaskStore, gate Gate) *Service {
	return &Service{tasks: tasks, gate: gate}
}
