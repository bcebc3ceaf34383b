package model

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts a case-insensitive priority name. An empty string
// yields the zero value, which Normalize turns into PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityPublic       Visibility = "public"
	VisibilityConfidential Visibility = "confidential"
)

func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "", VisibilityPrivate, VisibilityPublic, VisibilityConfidential:
		return v, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

func (v *Visibility) UnmarshalText(b []byte) error {
	pv, err := ParseVisibility(string(b))
	if err != nil {
		return err
	}
	*v = pv
	return nil
}

// Status is the lifecycle state of a calendar event. Organizer listings
// use a different status set and are not modelled here.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusTentative Status = "tentative"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case "", StatusDraft, StatusTentative, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency is strict: a rule without a frequency is invalid.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

type ConflictType string

const (
	ConflictOverlap    ConflictType = "overlap"
	ConflictTravelTime ConflictType = "travel_time"
	ConflictAdjacent   ConflictType = "adjacent"
	// ConflictResource is reserved for shared-resource bookings recorded by
	// the store; the detector never emits it.
	ConflictResource ConflictType = "resource"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
