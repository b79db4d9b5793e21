package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind tells whether a notice reports a lost or a found item.
type Kind string

// Item kinds.
const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

// Status is the lifecycle marker of a notice.
type Status string

// Item statuses.
const (
	StatusActive   Status = "active"
	StatusClaimed  Status = "claimed"
	StatusResolved Status = "resolved"
)

// MaxFieldLength caps every free-text field, in runes.
const MaxFieldLength = 2000

var (
	ErrInvalidKind       = errors.New("invalid kind")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingField      = errors.New("missing required field")
	ErrFieldTooLong      = errors.New("field too long")
)

// Item is a lost-or-found notice.
type Item struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	ContactInfo string    `json:"contact_info"`
	ImageURL    string    `json:"image_url,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fields are the user-editable text fields of an item.
type Fields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	ContactInfo string `json:"contact_info"`
}

// Fields returns the editable text of the item.
func (i Item) Fields() Fields {
	return Fields{
		Title:       i.Title,
		Description: i.Description,
		Location:    i.Location,
		ContactInfo: i.ContactInfo,
	}
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (f Fields) Trimmed() Fields {
	return Fields{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Location:    strings.TrimSpace(f.Location),
		ContactInfo: strings.TrimSpace(f.ContactInfo),
	}
}

// Validate checks that every field is present and within MaxFieldLength.
func (f Fields) Validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"title", f.Title},
		{"description", f.Description},
		{"location", f.Location},
		{"contact_info", f.ContactInfo},
	}
	for _, c := range checks {
		v := strings.TrimSpace(c.value)
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, c.name)
		}
		if utf8.RuneCountInString(v) > MaxFieldLength {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrFieldTooLong, c.name, MaxFieldLength)
		}
	}
	return nil
}

// NewItem is the payload for creating an item. The store assigns the id,
// the timestamps and the initial status.
type NewItem struct {
	Kind     Kind
	Fields   Fields
	ImageURL string
}

// Validate checks the kind and the text fields.
func (n NewItem) Validate() error {
	if _, err := ParseKind(string(n.Kind)); err != nil {
		return err
	}
	return n.Fields.Validate()
}

// Patch lists the fields of an update; nil fields are left untouched.
// Kind is intentionally absent: it never changes after creation.
type Patch struct {
	Title       *string
	Description *string
	Location    *string
	ContactInfo *string
	ImageURL    *string
	Status      *Status
}

// FieldsPatch builds a patch that rewrites all text fields.
func FieldsPatch(f Fields) Patch {
	return Patch{
		Title:       &f.Title,
		Description: &f.Description,
		Location:    &f.Location,
		ContactInfo: &f.ContactInfo,
	}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Location == nil &&
		p.ContactInfo == nil && p.ImageURL == nil && p.Status == nil
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLost, KindFound:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusClaimed, StatusResolved:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransition reports whether a notice may move from s to next.
// Only active notices move, and only forward.
func (s Status) CanTransition(next Status) bool {
	if s != StatusActive {
		return false
	}
	return next == StatusClaimed || next == StatusResolved
}

// Validate checks every field the patch sets: text fields must stay
// non-blank and status must name a non-active status.
func (p Patch) Validate() error {
	checks := []struct {
		name  string
		value *string
	}{
		{"title", p.Title},
		{"description", p.Description},
		{"location", p.Location},
		{"contact_info", p.ContactInfo},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		v := strings.TrimSpace(*c.value)
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, c.name)
		}
		if utf8.RuneCountInString(v) > MaxFieldLength {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrFieldTooLong, c.name, MaxFieldLength)
		}
	}
	if p.Status != nil {
		st, err := ParseStatus(string(*p.Status))
		if err != nil {
			return err
		}
		if !StatusActive.CanTransition(st) {
			return fmt.Errorf("%w: to %s", ErrInvalidTransition, st)
		}
	}
	return nil
}
