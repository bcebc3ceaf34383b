// Package calendar is the application service: it validates and stores
// events, expands series into ranges, attaches conflicts and applies
// recurrence edit scopes.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"eventdesk/internal/codec"
	"eventdesk/internal/conflict"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
	"eventdesk/internal/optimizer"
	"eventdesk/internal/recurrence"
	"eventdesk/internal/store"
	"eventdesk/internal/timerange"
)

// Scope selects which occurrences of a series an edit applies to.
type Scope string

const (
	ScopeThis          Scope = "this"
	ScopeThisAndFuture Scope = "this_and_future"
	ScopeAll           Scope = "all"
)

// ParseScope defaults to ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ScopeAll, nil
	case ScopeThis, ScopeThisAndFuture, ScopeAll:
		return sc, nil
	}
	return "", &model.ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", s)}
}

const (
	DefaultSlotWindowDays = 7
	// conflictMargin widens the window searched around a single event.
	conflictMargin = 24 * time.Hour
	dateKeyLayout  = "2006-01-02"
)

type Options struct {
	// SlotWindowDays is the search window for suggestions attached to
	// conflict checks.
	SlotWindowDays int
	// MaxInstances caps generated occurrences per series and call.
	MaxInstances int

	Now func() time.Time
}

// Service coordinates the store with the pure scheduling components. It is
// safe for concurrent use.
type Service struct {
	store     store.Store
	detector  *conflict.Detector
	optimizer *optimizer.Optimizer
	codec     *codec.Codec
	opts      Options
}

func New(st store.Store, det *conflict.Detector, opt *optimizer.Optimizer, cdc *codec.Codec, opts Options) *Service {
	if opts.SlotWindowDays < 1 {
		opts.SlotWindowDays = DefaultSlotWindowDays
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = model.MaxCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, detector: det, optimizer: opt, codec: cdc, opts: opts}
}

// Create stores e for owner and returns it with its current conflicts.
func (s *Service) Create(ctx context.Context, owner string, e model.Event) (model.Event, error) {
	e.OwnerID = owner
	e.ID = strings.TrimSpace(e.ID)
	created, err := s.store.Create(ctx, e)
	if err != nil {
		return model.Event{}, err
	}
	return s.withConflicts(ctx, owner, created)
}

// Get returns a stored event or a generated occurrence addressed by its
// instance ID, with conflicts attached.
func (s *Service) Get(ctx context.Context, owner, id string) (model.Event, error) {
	e, err := s.store.Get(ctx, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		t, rerr := s.resolveInstance(ctx, owner, id)
		if rerr != nil {
			return model.Event{}, err
		}
		e = t.occurrence()
	} else if err != nil {
		return model.Event{}, err
	}
	return s.withConflicts(ctx, owner, e)
}

// ListRange returns every event of owner intersecting [from, to): single
// events, overrides and generated occurrences of series, ordered by start.
// Each carries its conflicts with the other listed events; newly seen
// conflicts are written to the audit log.
func (s *Service) ListRange(ctx context.Context, owner string, from, to time.Time) ([]model.Event, error) {
	if !to.After(from) {
		return nil, &model.ValidationError{Field: "to", Reason: "must be after from"}
	}
	events, err := s.expand(ctx, owner, from, to)
	if err != nil {
		return nil, err
	}

	var audits []model.ConflictAudit
	for i := range events {
		others := othersThan(events, events[i])
		events[i].Conflicts = s.detector.Detect(events[i], others)
		for _, c := range events[i].Conflicts {
			audits = append(audits, model.ConflictAudit{
				OwnerID:            owner,
				EventID:            c.EventID,
				ConflictingEventID: c.ConflictingEventID,
				Type:               c.Type,
				Severity:           c.Severity,
				OverlapMinutes:     c.OverlapMinutes,
			})
		}
	}

	if len(audits) > 0 {
		n, err := s.store.RecordConflicts(ctx, audits)
		if err != nil {
			appLog.Error("record conflicts failed", err, "owner", owner)
		} else if n > 0 {
			appLog.Info("conflicts recorded", "owner", owner, "new", n)
		}
	}
	return events, nil
}

// CheckConflicts reports the conflicts candidate would have with owner's
// events without storing anything. Overlap records carry suggested slots.
func (s *Service) CheckConflicts(ctx context.Context, owner string, candidate model.Event) ([]model.ConflictRecord, error) {
	candidate.OwnerID = owner
	model.Normalize(&candidate)
	if err := model.Validate(candidate); err != nil {
		return nil, err
	}

	r := timerange.Of(candidate)
	others, err := s.expand(ctx, owner, r.Start.Add(-conflictMargin), r.End.Add(conflictMargin))
	if err != nil {
		return nil, err
	}
	records := s.detector.Detect(candidate, othersThan(others, candidate))

	var slots []model.TimeSlot
	for i := range records {
		if records[i].Type != model.ConflictOverlap {
			continue
		}
		if slots == nil {
			if slots, err = s.SuggestSlots(ctx, owner, candidate, s.opts.SlotWindowDays); err != nil {
				return nil, err
			}
		}
		records[i].SuggestedSlots = slots
	}
	return records, nil
}

// SuggestSlots proposes conflict-free times for candidate within days
// calendar days.
func (s *Service) SuggestSlots(ctx context.Context, owner string, candidate model.Event, days int) ([]model.TimeSlot, error) {
	candidate.OwnerID = owner
	model.Normalize(&candidate)
	if err := model.Validate(candidate); err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, &model.ValidationError{Field: "days", Reason: "must be at least 1"}
	}

	from := timerange.StartOfDay(candidate.Start, timerange.Location(candidate)).Add(-conflictMargin)
	to := s.opts.Now().Add(time.Duration(days+1) * 24 * time.Hour)
	if end := candidate.End.Add(time.Duration(days+1) * 24 * time.Hour); end.After(to) {
		to = end
	}
	others, err := s.expand(ctx, owner, from, to)
	if err != nil {
		return nil, err
	}
	return s.optimizer.SuggestSlots(candidate, othersThan(others, candidate), days)
}

// ExpandSeries returns the occurrences of the series id after its first,
// up to until and limit, with stored overrides in place of generated ones.
func (s *Service) ExpandSeries(ctx context.Context, owner, id string, until time.Time, limit int) ([]model.Event, error) {
	parent, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if parent.Recurrence == nil {
		return nil, &model.ValidationError{Field: "recurrence", Reason: "event is not recurring"}
	}
	if limit <= 0 || limit > s.opts.MaxInstances {
		limit = s.opts.MaxInstances
	}
	instances, err := recurrence.Expand(parent, *parent.Recurrence, until, limit)
	if err != nil {
		return nil, err
	}
	overrides, err := s.overridesByStart(ctx, owner, parent.ID)
	if err != nil {
		return nil, err
	}
	for i, inst := range instances {
		if o, ok := overrides[inst.OriginalStartTime.UnixNano()]; ok {
			instances[i] = o
		}
	}
	return instances, nil
}

// expand lists the events of owner that intersect [from, to), replacing
// each recurring parent by its occurrences in range.
func (s *Service) expand(ctx context.Context, owner string, from, to time.Time) ([]model.Event, error) {
	stored, err := s.store.ListInRange(ctx, owner, from, to)
	if err != nil {
		return nil, err
	}
	window := timerange.Range{Start: from, End: to}

	out := make([]model.Event, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	add := func(e model.Event) {
		if _, dup := seen[e.ID]; dup {
			return
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}

	for _, e := range stored {
		if e.Recurrence == nil {
			if timerange.Overlaps(timerange.Of(e), window) {
				add(e)
			}
			continue
		}

		occs, err := recurrence.Occurrences(e, from, to, s.opts.MaxInstances)
		if err != nil {
			appLog.Error("expand series failed", err, "owner", owner, "event_id", e.ID)
			continue
		}
		overrides, err := s.overridesByStart(ctx, owner, e.ID)
		if err != nil {
			return nil, err
		}
		for _, occ := range occs {
			orig := occ.Start
			if occ.OriginalStartTime != nil {
				orig = *occ.OriginalStartTime
			} else if excepted(e, occ.Start) {
				continue
			}
			if o, ok := overrides[orig.UnixNano()]; ok {
				if timerange.Overlaps(timerange.Of(o), window) {
					add(o)
				}
				seen[o.ID] = struct{}{}
				continue
			}
			add(occ)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) overridesByStart(ctx context.Context, owner, parentID string) (map[int64]model.Event, error) {
	list, err := s.store.ListOverrides(ctx, owner, parentID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.Event, len(list))
	for _, o := range list {
		if o.OriginalStartTime != nil {
			out[o.OriginalStartTime.UnixNano()] = o
		}
	}
	return out, nil
}

func (s *Service) withConflicts(ctx context.Context, owner string, e model.Event) (model.Event, error) {
	r := timerange.Of(e)
	others, err := s.expand(ctx, owner, r.Start.Add(-conflictMargin), r.End.Add(conflictMargin))
	if err != nil {
		return model.Event{}, err
	}
	e.Conflicts = s.detector.Detect(e, othersThan(others, e))
	return e, nil
}

// othersThan drops e, and the occurrences of e when it is a series, from
// events.
func othersThan(events []model.Event, e model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, o := range events {
		if e.ID != "" && (o.ID == e.ID || (e.IsRecurring() && o.ParentEventID == e.ID)) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// excepted reports whether the parent's own first occurrence date is in the
// rule's exceptions.
func excepted(parent model.Event, start time.Time) bool {
	if parent.Recurrence == nil {
		return false
	}
	key := timerange.DateKey(start, parent.Start.Location())
	for _, ex := range parent.Recurrence.Exceptions {
		if ex.Format(dateKeyLayout) == key {
			return true
		}
	}
	return false
}

// Ping checks the store connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
