package task

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Character limits enforced per platform.
const (
	TwitterLimit  = 280
	LinkedInLimit = 3000
	WhatsAppLimit = 4096
)

// EmailDraft is an outbound email.
type EmailDraft struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// MessageDraft is a direct chat message.
type MessageDraft struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// PostDraft is a public social post.
type PostDraft struct {
	Text     string `json:"text"`
	Link     string `json:"link,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Draft is the proposed external action attached to an approval item. Exactly
// one variant matching Category is set.
type Draft struct {
	Category Category      `json:"category"`
	Intent   string        `json:"intent,omitempty"`
	Email    *EmailDraft   `json:"email,omitempty"`
	Message  *MessageDraft `json:"message,omitempty"`
	Post     *PostDraft    `json:"post,omitempty"`
	Text     string        `json:"text,omitempty"`
}

// Clone returns a deep copy of the draft or nil.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	ret := *d
	if d.Email != nil {
		email := *d.Email
		ret.Email = &email
	}
	if d.Message != nil {
		message := *d.Message
		ret.Message = &message
	}
	if d.Post != nil {
		post := *d.Post
		ret.Post = &post
	}
	return &ret
}

// CharLimit returns the platform limit for the draft category, 0 for none.
func (d *Draft) CharLimit() int {
	switch d.Category {
	case CategoryTwitter:
		return TwitterLimit
	case CategoryLinkedIn:
		return LinkedInLimit
	case CategoryWhatsApp:
		return WhatsAppLimit
	}
	return 0
}

// Content returns the human readable body of the draft.
func (d *Draft) Content() string {
	switch {
	case d.Email != nil:
		return d.Email.Body
	case d.Message != nil:
		return d.Message.Text
	case d.Post != nil:
		return d.Post.Text
	}
	return d.Text
}

// Validate checks that the variant matches the category and that platform
// constraints hold.
func (d *Draft) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: draft is nil", ErrInvalidDraft)
	}
	variants := 0
	for _, set := range []bool{d.Email != nil, d.Message != nil, d.Post != nil} {
		if set {
			variants++
		}
	}
	if variants > 1 {
		return fmt.Errorf("%w: more than one variant set", ErrInvalidDraft)
	}
	switch d.Category {
	case CategoryEmail:
		if d.Email == nil {
			return fmt.Errorf("%w: email draft required", ErrInvalidDraft)
		}
		if strings.TrimSpace(d.Email.Recipient) == "" || !strings.Contains(d.Email.Recipient, "@") {
			return fmt.Errorf("%w: invalid email recipient %q", ErrInvalidDraft, d.Email.Recipient)
		}
		if strings.TrimSpace(d.Email.Subject) == "" {
			return fmt.Errorf("%w: email subject required", ErrInvalidDraft)
		}
		if strings.TrimSpace(d.Email.Body) == "" {
			return fmt.Errorf("%w: email body required", ErrInvalidDraft)
		}
	case CategoryWhatsApp:
		if d.Message == nil {
			return fmt.Errorf("%w: message draft required", ErrInvalidDraft)
		}
		if strings.TrimSpace(d.Message.Recipient) == "" {
			return fmt.Errorf("%w: message recipient required", ErrInvalidDraft)
		}
		if err := checkText(d.Message.Text, WhatsAppLimit); err != nil {
			return err
		}
	case CategoryLinkedIn, CategoryTwitter:
		if d.Post == nil {
			return fmt.Errorf("%w: post draft required", ErrInvalidDraft)
		}
		if err := checkText(d.Post.Text, d.CharLimit()); err != nil {
			return err
		}
	case CategoryGeneric:
		if variants != 0 {
			return fmt.Errorf("%w: generic draft carries plain text only", ErrInvalidDraft)
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: text required", ErrInvalidDraft)
		}
	default:
		return fmt.Errorf("%w: unknown category %q", ErrInvalidDraft, d.Category)
	}
	return nil
}

func checkText(text string, limit int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text required", ErrInvalidDraft)
	}
	if n := utf8.RuneCountInString(text); n > limit {
		return fmt.Errorf("%w: %d characters exceeds limit of %d", ErrInvalidDraft, n, limit)
	}
	return nil
}
