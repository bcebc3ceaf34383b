package recurrence

import (
	"fmt"
	"strings"
	"time"

	"eventdesk/internal/model"
	"eventdesk/internal/timerange"
)

const (
	defaultMaxInstances = model.MaxCount
	instanceLayout      = "20060102T150405Z"
)

// Expand materializes the occurrences of parent under rule, excluding the
// parent's own occurrence. Occurrence i is computed from parent.Start
// directly, so month-end clamping never drifts (Jan 31 -> Feb 28 -> Mar 31).
//
// Expansion stops at the first of: rule.Count occurrences (the parent being
// the first), a date past rule.Until, a start after horizon, or
// maxInstances generated instances. maxInstances <= 0 uses the default cap.
// Exception dates are skipped but still count towards rule.Count. Until and
// exceptions are compared by their own calendar date with the occurrence's
// date in the parent's location. A zero or negative interval is an error.
func Expand(parent model.Event, rule model.RecurrenceRule, horizon time.Time, maxInstances int) ([]model.Event, error) {
	if maxInstances <= 0 {
		maxInstances = defaultMaxInstances
	}
	out := make([]model.Event, 0)
	err := walk(parent, rule, horizon, func(inst model.Event) bool {
		out = append(out, inst)
		return len(out) < maxInstances
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Occurrences returns parent itself (when it intersects the range) followed
// by its generated instances that intersect [rangeStart, rangeEnd), at most
// maxInstances in total.
func Occurrences(parent model.Event, rangeStart, rangeEnd time.Time, maxInstances int) ([]model.Event, error) {
	if maxInstances <= 0 {
		maxInstances = defaultMaxInstances
	}
	window := timerange.Range{Start: rangeStart, End: rangeEnd}
	out := make([]model.Event, 0)
	if timerange.Overlaps(timerange.Of(parent), window) {
		out = append(out, parent)
	}
	if parent.Recurrence == nil || len(out) >= maxInstances {
		return out, nil
	}

	err := walk(parent, *parent.Recurrence, rangeEnd, func(inst model.Event) bool {
		if timerange.Overlaps(timerange.Of(inst), window) {
			out = append(out, inst)
		}
		return len(out) < maxInstances
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walk calls fn for each generated instance in order until fn returns
// false or a termination condition of the rule or horizon is met.
func walk(parent model.Event, rule model.RecurrenceRule, horizon time.Time, fn func(model.Event) bool) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("expand: %w", err)
	}

	loc := parent.Start.Location()
	base := parent.Start
	dur := parent.End.Sub(parent.Start)

	excluded := make(map[string]struct{}, len(rule.Exceptions))
	for _, ex := range rule.Exceptions {
		excluded[civilDate(ex)] = struct{}{}
	}

	var untilKey string
	if rule.Until != nil {
		untilKey = civilDate(*rule.Until)
	}

	for i := 1; ; i++ {
		if rule.Count > 0 && i >= rule.Count {
			return nil
		}
		cur := advance(base, rule.Frequency, i*rule.Interval)
		key := timerange.DateKey(cur, loc)
		if untilKey != "" && key > untilKey {
			return nil
		}
		if cur.After(horizon) {
			return nil
		}
		if _, skip := excluded[key]; skip {
			continue
		}
		if !fn(instance(parent, cur, dur)) {
			return nil
		}
	}
}

// civilDate is the calendar date of a date-granular value as written, in
// its own location.
func civilDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func advance(t time.Time, freq model.Frequency, n int) time.Time {
	switch freq {
	case model.FrequencyDaily:
		return t.AddDate(0, 0, n)
	case model.FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case model.FrequencyMonthly:
		return addMonthsClamped(t, n)
	case model.FrequencyYearly:
		return addMonthsClamped(t, 12*n)
	}
	return t
}

// addMonthsClamped moves t by n months, clamping the day to the target
// month's length instead of overflowing into the next month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Instance builds the generated occurrence of parent starting at start.
func Instance(parent model.Event, start time.Time) model.Event {
	return instance(parent, start, parent.End.Sub(parent.Start))
}

func instance(parent model.Event, start time.Time, dur time.Duration) model.Event {
	inst := parent
	inst.ID = InstanceID(parent.ID, start)
	inst.Start = start
	inst.End = start.Add(dur)
	inst.Recurrence = nil
	inst.ParentEventID = parent.ID
	orig := start
	inst.OriginalStartTime = &orig
	inst.Conflicts = nil
	return inst
}

// InstanceID is the stable identifier of the occurrence of parentID that
// originally starts at start.
func InstanceID(parentID string, start time.Time) string {
	return parentID + "_" + start.UTC().Format(instanceLayout)
}

// ParseInstanceID splits an ID produced by InstanceID.
func ParseInstanceID(id string) (parentID string, start time.Time, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", time.Time{}, false
	}
	start, err := time.Parse(instanceLayout, id[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return id[:i], start, true
}

// Index returns the position of the occurrence of the series starting at
// start, the parent being 0. Exceptions and Until are not consulted.
func Index(parent model.Event, rule model.RecurrenceRule, start time.Time) (int, bool) {
	if start.Equal(parent.Start) {
		return 0, true
	}
	if rule.Validate() != nil || start.Before(parent.Start) {
		return 0, false
	}
	for i := 1; ; i++ {
		if rule.Count > 0 && i >= rule.Count {
			return 0, false
		}
		cur := advance(parent.Start, rule.Frequency, i*rule.Interval)
		if cur.Equal(start) {
			return i, true
		}
		if cur.After(start) {
			return 0, false
		}
	}
}
