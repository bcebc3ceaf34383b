package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxInterval          = 999
	MaxCount             = 1000
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports the first invalid field of an event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Normalize trims text fields and fills unset classification values.
func Normalize(e *Event) {
	e.Title = strings.TrimSpace(e.Title)
	e.Location = strings.TrimSpace(e.Location)
	e.MeetingURL = strings.TrimSpace(e.MeetingURL)
	if e.Priority == "" {
		e.Priority = PriorityNormal
	}
	if e.Visibility == "" {
		e.Visibility = VisibilityPrivate
	}
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if e.Recurrence != nil && e.Recurrence.Interval == 0 {
		e.Recurrence.Interval = 1
	}
}

// Validate checks e before it reaches storage or any scheduling component.
func Validate(e Event) error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return invalid("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("title", "title is too long (%d characters tops)", MaxTitleLength)
	}
	if utf8.RuneCountInString(e.Description) > MaxDescriptionLength {
		return invalid("description", "description is too long (%d characters tops)", MaxDescriptionLength)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return invalid("start", "start and end are required")
	}
	if !e.End.After(e.Start) {
		return invalid("end", "end time must be after start time")
	}
	if _, err := ParsePriority(string(e.Priority)); err != nil {
		return invalid("priority", "%v", err)
	}
	if _, err := ParseVisibility(string(e.Visibility)); err != nil {
		return invalid("visibility", "%v", err)
	}
	if _, err := ParseStatus(string(e.Status)); err != nil {
		return invalid("status", "%v", err)
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return invalid("timezone", "unknown timezone %q", e.Timezone)
		}
	}
	if e.MeetingURL != "" {
		u, err := url.Parse(e.MeetingURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("meeting_url", "meeting url must be an absolute http(s) URL")
		}
	}
	if e.Recurrence != nil {
		if e.ParentEventID != "" {
			return invalid("recurrence", "an occurrence cannot carry its own recurrence rule")
		}
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the rule's shape. Recurrence expansion relies on it.
func (r RecurrenceRule) Validate() error {
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return invalid("recurrence.frequency", "%v", err)
	}
	if r.Interval < 1 || r.Interval > MaxInterval {
		return invalid("recurrence.interval", "interval must be between 1 and %d, got %d", MaxInterval, r.Interval)
	}
	if r.Count < 0 || r.Count > MaxCount {
		return invalid("recurrence.count", "count must be between 0 and %d, got %d", MaxCount, r.Count)
	}
	return nil
}

// EventPatch is a partial update; nil fields are left untouched.
type EventPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Location    *string     `json:"location,omitempty"`
	MeetingURL  *string     `json:"meeting_url,omitempty"`
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	AllDay      *bool       `json:"all_day,omitempty"`
	Timezone    *string     `json:"timezone,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
	Status      *Status     `json:"status,omitempty"`

	Recurrence      *RecurrenceRule `json:"recurrence,omitempty"`
	ClearRecurrence bool            `json:"clear_recurrence,omitempty"`
}

// Apply writes the set fields of p into e.
func (p EventPatch) Apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.MeetingURL != nil {
		e.MeetingURL = *p.MeetingURL
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.Timezone != nil {
		e.Timezone = *p.Timezone
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.Visibility != nil {
		e.Visibility = *p.Visibility
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.ClearRecurrence {
		e.Recurrence = nil
	} else if p.Recurrence != nil {
		e.Recurrence = p.Recurrence.Clone()
	}
}

// Shifted reports whether the patch moves the event in time.
func (p EventPatch) Shifted() bool {
	return p.Start != nil || p.End != nil || p.AllDay != nil
}
