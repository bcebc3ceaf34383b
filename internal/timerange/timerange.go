// Package timerange holds the interval arithmetic shared by conflict
// detection, slot search and recurrence expansion.
package timerange

import (
	"time"

	"eventdesk/internal/model"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Location returns the event's timezone if it loads, else the location of
// its start time.
func Location(e model.Event) *time.Location {
	if e.Timezone != "" {
		if loc, err := time.LoadLocation(e.Timezone); err == nil {
			return loc
		}
	}
	if loc := e.Start.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

// Of returns the range used to compare e against other events. All-day
// events collapse to whole dates in the event's location; an end with a
// non-zero time of day, or one on the start date, runs to the next midnight.
func Of(e model.Event) Range {
	if !e.AllDay {
		return Range{Start: e.Start, End: e.End}
	}
	loc := Location(e)
	start := StartOfDay(e.Start, loc)
	endLocal := e.End.In(loc)
	end := StartOfDay(endLocal, loc)
	if !end.Equal(endLocal) || !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return Range{Start: start, End: end}
}

// Overlaps reports a.Start < b.End && a.End > b.Start.
func Overlaps(a, b Range) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// Intersection returns the length of the overlap between a and b.
func Intersection(a, b Range) time.Duration {
	if !Overlaps(a, b) {
		return 0
	}
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	return end.Sub(start)
}

// Gap returns the free time between two disjoint ranges, zero when they
// overlap or touch.
func Gap(a, b Range) time.Duration {
	if Overlaps(a, b) {
		return 0
	}
	if !a.End.After(b.Start) {
		return b.Start.Sub(a.End)
	}
	return a.Start.Sub(b.End)
}

// StartOfDay returns local midnight of t's date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// SameDate compares the calendar dates of a and b in loc.
func SameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DateKey formats t's date in loc for set membership checks.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
