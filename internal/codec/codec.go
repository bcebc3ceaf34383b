package codec

import (
	"fmt"
	"strings"
	"time"

	"eventdesk/internal/model"
)

// Format selects one of the supported text formats.
type Format string

const (
	FormatICS  Format = "ics"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// MaxReportedErrors caps DecodeResult.Errors; Skipped keeps the full count.
const MaxReportedErrors = 10

// ParseFormat accepts the short names and the long aliases
// calendar-interchange, delimited and structured.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ics", "ical", "icalendar", "calendar-interchange":
		return FormatICS, nil
	case "csv", "delimited":
		return FormatCSV, nil
	case "json", "structured":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("codec: unknown format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatICS:
		return "text/calendar; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// RawEventRecord is an event as read from an import document, before the
// service validates and stores it.
type RawEventRecord struct {
	UID         string                `json:"uid,omitempty"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Location    string                `json:"location,omitempty"`
	MeetingURL  string                `json:"meeting_url,omitempty"`
	Start       time.Time             `json:"start"`
	End         time.Time             `json:"end"`
	AllDay      bool                  `json:"all_day"`
	Timezone    string                `json:"timezone,omitempty"`
	Priority    model.Priority        `json:"priority,omitempty"`
	Status      model.Status          `json:"status,omitempty"`
	Visibility  model.Visibility      `json:"visibility,omitempty"`
	Recurrence  *model.RecurrenceRule `json:"recurrence,omitempty"`

	// ParentUID and OriginalStart identify a record that overrides one
	// occurrence of a recurring series.
	ParentUID     string     `json:"parent_uid,omitempty"`
	OriginalStart *time.Time `json:"original_start,omitempty"`

	// Position is the zero-based index of the record in its document.
	Position int `json:"-"`
}

// Event converts r into an unsaved event.
func (r RawEventRecord) Event() model.Event {
	return model.Event{
		ID:          r.UID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		MeetingURL:  r.MeetingURL,
		Start:       r.Start,
		End:         r.End,
		AllDay:      r.AllDay,
		Timezone:    r.Timezone,
		Priority:    r.Priority,
		Status:      r.Status,
		Visibility:  r.Visibility,
		Recurrence:  r.Recurrence.Clone(),

		ParentEventID:     r.ParentUID,
		OriginalStartTime: r.OriginalStart,
	}
}

// FromEvent is the inverse of RawEventRecord.Event.
func FromEvent(e model.Event) RawEventRecord {
	return RawEventRecord{
		UID:         e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		MeetingURL:  e.MeetingURL,
		Start:       e.Start,
		End:         e.End,
		AllDay:      e.AllDay,
		Timezone:    e.Timezone,
		Priority:    e.Priority,
		Status:      e.Status,
		Visibility:  e.Visibility,
		Recurrence:  e.Recurrence.Clone(),

		ParentUID:     e.ParentEventID,
		OriginalStart: e.OriginalStartTime,
	}
}

// RecordError describes one record skipped during decoding. Index is the
// zero-based position of the record in the document.
type RecordError struct {
	Index  int    `json:"index"`
	UID    string `json:"uid,omitempty"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("record %d (%s): %s", e.Index, e.UID, e.Reason)
	}
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

// DecodeResult holds the records that decoded cleanly and a bounded list of
// the ones that did not.
type DecodeResult struct {
	Records []RawEventRecord `json:"records"`
	Errors  []RecordError    `json:"errors,omitempty"`
	Skipped int              `json:"skipped"`
}

func (r *DecodeResult) skip(index int, uid string, err error) {
	r.Skipped++
	if len(r.Errors) < MaxReportedErrors {
		r.Errors = append(r.Errors, RecordError{Index: index, UID: uid, Reason: err.Error()})
	}
}

// Options tunes encoding and decoding.
type Options struct {
	// Location is used for CSV dates and times and for floating ICS
	// date-times. Defaults to UTC.
	Location *time.Location
	// ProductID is written as the ICS PRODID.
	ProductID string
	// Now stamps ICS DTSTAMP when an event has no UpdatedAt.
	Now func() time.Time
}

// Codec converts event collections to and from text.
type Codec struct {
	opts Options
}

func New(opts Options) *Codec {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ProductID == "" {
		opts.ProductID = "-//eventdesk//eventdesk//EN"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Codec{opts: opts}
}

// Encode renders events in format.
func (c *Codec) Encode(events []model.Event, format Format) ([]byte, error) {
	switch format {
	case FormatICS:
		return c.encodeICS(events)
	case FormatCSV:
		return c.encodeCSV(events)
	case FormatJSON:
		return c.encodeJSON(events)
	}
	return nil, fmt.Errorf("codec: unknown format %q", format)
}

// Decode parses data in format. A document that cannot be read at all is an
// error; individual bad records are skipped and reported in the result.
func (c *Codec) Decode(data []byte, format Format) (DecodeResult, error) {
	switch format {
	case FormatICS:
		return c.decodeICS(data)
	case FormatCSV:
		return c.decodeCSV(data)
	case FormatJSON:
		return c.decodeJSON(data)
	}
	return DecodeResult{}, fmt.Errorf("codec: unknown format %q", format)
}

// checkRecord applies the minimum shape every decoded record must have.
func checkRecord(r RawEventRecord) error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("missing title")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("missing start or end")
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("end must be after start")
	}
	return nil
}
