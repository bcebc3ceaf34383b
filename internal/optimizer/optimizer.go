package optimizer

import (
	"errors"
	"fmt"
	"time"

	"eventdesk/internal/model"
	"eventdesk/internal/timerange"
)

const (
	DefaultWorkdayStart = 8 * time.Hour
	DefaultWorkdayEnd   = 18 * time.Hour
	DefaultStep         = 30 * time.Minute
	DefaultMaxSlots     = 3
)

const (
	ReasonSameDay  = "Same day as original request"
	ReasonSameTime = "Same time of day as original request"
	ReasonFree     = "No conflicts"
)

// Options configures the slot search. WorkdayStart and WorkdayEnd are
// local wall-clock times of day, expressed as durations since midnight.
type Options struct {
	Now          func() time.Time
	WorkdayStart time.Duration
	WorkdayEnd   time.Duration
	Step         time.Duration
	MaxSlots     int
	// Location overrides the candidate's own timezone for working hours.
	Location *time.Location
}

func DefaultOptions() Options {
	return Options{
		Now:          time.Now,
		WorkdayStart: DefaultWorkdayStart,
		WorkdayEnd:   DefaultWorkdayEnd,
		Step:         DefaultStep,
		MaxSlots:     DefaultMaxSlots,
	}
}

// Optimizer proposes conflict-free alternatives for an event.
type Optimizer struct {
	opts Options
}

func New(opts Options) *Optimizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = DefaultMaxSlots
	}
	return &Optimizer{opts: opts}
}

// SuggestSlots walks the working hours of windowDays days, starting at the
// later of now and candidate.Start, and returns up to MaxSlots slots of the
// candidate's duration that overlap none of others. Slots start on a Step
// grid anchored at WorkdayStart and never overlap each other. An empty
// result means nothing fits in the window.
func (o *Optimizer) SuggestSlots(candidate model.Event, others []model.Event, windowDays int) ([]model.TimeSlot, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("optimizer: window must be at least one day, got %d", windowDays)
	}
	if o.opts.Step <= 0 {
		return nil, errors.New("optimizer: step must be positive")
	}
	if o.opts.WorkdayEnd <= o.opts.WorkdayStart || o.opts.WorkdayStart < 0 || o.opts.WorkdayEnd > 24*time.Hour {
		return nil, fmt.Errorf("optimizer: invalid working hours %s-%s", o.opts.WorkdayStart, o.opts.WorkdayEnd)
	}
	dur := candidate.End.Sub(candidate.Start)
	if dur <= 0 {
		return nil, errors.New("optimizer: candidate end must be after start")
	}

	loc := o.opts.Location
	if loc == nil {
		loc = timerange.Location(candidate)
	}

	busy := make([]timerange.Range, 0, len(others))
	for _, ev := range others {
		if ev.Status == model.StatusCancelled || ev.DeletedAt != nil {
			continue
		}
		busy = append(busy, timerange.Of(ev))
	}

	from := o.opts.Now()
	if candidate.Start.After(from) {
		from = candidate.Start
	}

	slots := make([]model.TimeSlot, 0, o.opts.MaxSlots)
	day := timerange.StartOfDay(from, loc)
	for i := 0; i < windowDays && len(slots) < o.opts.MaxSlots; i++ {
		date := day.AddDate(0, 0, i)
		open := wallClock(date, o.opts.WorkdayStart, loc)
		closeAt := wallClock(date, o.opts.WorkdayEnd, loc)

		for start := open; !start.Add(dur).After(closeAt); {
			if start.Before(from) {
				start = start.Add(o.opts.Step)
				continue
			}
			slot := timerange.Range{Start: start, End: start.Add(dur)}
			if !collides(slot, busy) {
				slots = append(slots, model.TimeSlot{
					Start:  slot.Start,
					End:    slot.End,
					Reason: reason(candidate, slot.Start, loc),
				})
				if len(slots) == o.opts.MaxSlots {
					break
				}
				start = nextOnGrid(open, slot.End, o.opts.Step)
				continue
			}
			start = start.Add(o.opts.Step)
		}
	}
	return slots, nil
}

// wallClock returns the instant on date's calendar day whose local time
// of day is offset, so DST transition days keep the same working hours.
func wallClock(date time.Time, offset time.Duration, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	h := int(offset / time.Hour)
	min := int((offset % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func collides(slot timerange.Range, busy []timerange.Range) bool {
	for _, b := range busy {
		if timerange.Overlaps(slot, b) {
			return true
		}
	}
	return false
}

// nextOnGrid returns the first grid point at or after t.
func nextOnGrid(origin, t time.Time, step time.Duration) time.Time {
	offset := t.Sub(origin)
	n := offset / step
	if offset%step != 0 {
		n++
	}
	return origin.Add(n * step)
}

func reason(candidate model.Event, start time.Time, loc *time.Location) string {
	if timerange.SameDate(candidate.Start, start, loc) {
		return ReasonSameDay
	}
	cs := candidate.Start.In(loc)
	ss := start.In(loc)
	if cs.Hour() == ss.Hour() && cs.Minute() == ss.Minute() {
		return ReasonSameTime
	}
	return ReasonFree
}
