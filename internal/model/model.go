package model

import "time"

// Event is a calendar event as stored and returned by the service. A
// recurring parent carries a Recurrence rule; generated occurrences and
// single-occurrence overrides point back to it through ParentEventID and
// OriginalStartTime.
type Event struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	MeetingURL  string `json:"meeting_url,omitempty"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Timezone string    `json:"timezone,omitempty"`

	Priority   Priority   `json:"priority"`
	Visibility Visibility `json:"visibility"`
	Status     Status     `json:"status"`

	Recurrence        *RecurrenceRule `json:"recurrence,omitempty"`
	ParentEventID     string          `json:"parent_event_id,omitempty"`
	OriginalStartTime *time.Time      `json:"original_start_time,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Conflicts is derived per response and never persisted.
	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsRecurring reports whether e is the parent of a series.
func (e Event) IsRecurring() bool {
	return e.Recurrence != nil
}

// IsOccurrence reports whether e was generated from, or overrides a date of,
// a recurring parent.
func (e Event) IsOccurrence() bool {
	return e.ParentEventID != ""
}

// RecurrenceRule describes how a parent event repeats.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`

	// Count is the total number of occurrences including the parent. Zero
	// means unbounded.
	Count int `json:"count,omitempty"`
	// Until is compared at date granularity and is inclusive.
	Until *time.Time `json:"until,omitempty"`

	// Exceptions are dates (time of day ignored) that are skipped.
	Exceptions []time.Time `json:"exceptions,omitempty"`
}

// Clone returns a deep copy of r.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	if r.Exceptions != nil {
		out.Exceptions = append([]time.Time(nil), r.Exceptions...)
	}
	return &out
}

// ConflictRecord describes one scheduling collision between two events.
type ConflictRecord struct {
	EventID            string       `json:"event_id"`
	ConflictingEventID string       `json:"conflicting_event_id"`
	ConflictingTitle   string       `json:"conflicting_title,omitempty"`
	ConflictingStart   time.Time    `json:"conflicting_start"`
	Type               ConflictType `json:"type"`
	Severity           Severity     `json:"severity"`
	OverlapMinutes     int          `json:"overlap_minutes"`
	GapMinutes         int          `json:"gap_minutes,omitempty"`
	Message            string       `json:"message"`
	Suggestion         string       `json:"suggestion"`
	SuggestedSlots     []TimeSlot   `json:"suggested_slots,omitempty"`
}

// TimeSlot is a proposed alternative time for an event.
type TimeSlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

// ConflictAudit is a persisted conflict observation.
type ConflictAudit struct {
	ID                 int64        `json:"id"`
	OwnerID            string       `json:"owner_id"`
	EventID            string       `json:"event_id"`
	ConflictingEventID string       `json:"conflicting_event_id"`
	Type               ConflictType `json:"type"`
	Severity           Severity     `json:"severity"`
	OverlapMinutes     int          `json:"overlap_minutes"`
	DetectedAt         time.Time    `json:"detected_at"`
}
