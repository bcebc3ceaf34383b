package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
	"eventdesk/internal/recurrence"
	"eventdesk/internal/store"
	"eventdesk/internal/timerange"
)

// target is the resolved subject of an update or delete.
type target struct {
	// stored is the row the id names; found is false when the id names a
	// generated occurrence.
	stored model.Event
	found  bool
	// parent is set when the subject belongs to a series.
	parent *model.Event
	// occ is the original start of the addressed occurrence, zero when the
	// whole series is addressed.
	occ time.Time
}

func (t target) occurrence() model.Event {
	if t.found && t.stored.IsOccurrence() {
		return t.stored
	}
	return recurrence.Instance(*t.parent, t.occ)
}

// resolve finds what id (and, for a series parent, the optional occurrence
// start) refers to.
func (s *Service) resolve(ctx context.Context, owner, id string, occurrence *time.Time) (target, error) {
	e, err := s.store.Get(ctx, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return s.resolveInstance(ctx, owner, id)
	}
	if err != nil {
		return target{}, err
	}

	t := target{stored: e, found: true}
	switch {
	case e.IsOccurrence() && e.OriginalStartTime != nil:
		p, err := s.store.Get(ctx, owner, e.ParentEventID)
		if errors.Is(err, store.ErrNotFound) {
			return t, nil
		}
		if err != nil {
			return target{}, err
		}
		if p.Recurrence != nil {
			t.parent = &p
			t.occ = e.OriginalStartTime.In(p.Start.Location())
		}
	case e.Recurrence != nil:
		t.parent = &e
		if occurrence != nil {
			occ := occurrence.In(e.Start.Location())
			if err := checkOccurrence(e, occ); err != nil {
				return target{}, err
			}
			t.occ = occ
		}
	}
	return t, nil
}

// resolveInstance handles ids of generated occurrences, which are not
// stored.
func (s *Service) resolveInstance(ctx context.Context, owner, id string) (target, error) {
	pid, start, ok := recurrence.ParseInstanceID(id)
	if !ok {
		return target{}, fmt.Errorf("%w: event %s", store.ErrNotFound, id)
	}
	p, err := s.store.Get(ctx, owner, pid)
	if err != nil {
		return target{}, err
	}
	if p.Recurrence == nil {
		return target{}, fmt.Errorf("%w: event %s", store.ErrNotFound, id)
	}
	occ := start.In(p.Start.Location())
	if err := checkOccurrence(p, occ); err != nil {
		return target{}, err
	}
	return target{parent: &p, occ: occ}, nil
}

// checkOccurrence fails with ErrNotFound unless the series generates an
// occurrence starting at occ.
func checkOccurrence(parent model.Event, occ time.Time) error {
	rule := *parent.Recurrence
	_, ok := recurrence.Index(parent, rule, occ)
	if ok && excepted(parent, occ) {
		ok = false
	}
	if ok && rule.Until != nil && timerange.DateKey(occ, parent.Start.Location()) > rule.Until.Format(dateKeyLayout) {
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: occurrence %s of %s", store.ErrNotFound, occ.Format(time.RFC3339), parent.ID)
	}
	return nil
}

// Update applies patch to the event id. For a series, scope chooses the
// addressed occurrence only, it and every later one, or the whole series.
// occurrence selects the occurrence when id names the series parent.
func (s *Service) Update(ctx context.Context, owner, id string, patch model.EventPatch, scope Scope, occurrence *time.Time) (model.Event, error) {
	t, err := s.resolve(ctx, owner, id, occurrence)
	if err != nil {
		return model.Event{}, err
	}

	var out model.Event
	switch {
	case t.parent == nil:
		out, err = s.store.Update(ctx, owner, t.stored.ID, patch)
	case scope == ScopeAll:
		out, err = s.store.Update(ctx, owner, t.parent.ID, rebase(patch, *t.parent, t.occ))
	case t.occ.IsZero():
		return model.Event{}, &model.ValidationError{Field: "occurrence", Reason: "is required for scope " + string(scope)}
	case scope == ScopeThis:
		out, err = s.updateOccurrence(ctx, owner, t, patch)
	default:
		out, err = s.splitSeries(ctx, owner, *t.parent, t.occ, patch)
	}
	if err != nil {
		return model.Event{}, err
	}
	return s.withConflicts(ctx, owner, out)
}

// Delete soft-deletes the event id, or part of a series per scope.
func (s *Service) Delete(ctx context.Context, owner, id string, scope Scope, occurrence *time.Time) error {
	t, err := s.resolve(ctx, owner, id, occurrence)
	if err != nil {
		return err
	}

	switch {
	case t.parent == nil:
		return s.store.SoftDelete(ctx, owner, t.stored.ID)
	case scope == ScopeAll:
		return s.deleteSeries(ctx, owner, *t.parent)
	case t.occ.IsZero():
		return &model.ValidationError{Field: "occurrence", Reason: "is required for scope " + string(scope)}
	case scope == ScopeThis:
		return s.deleteOccurrence(ctx, owner, *t.parent, t.occ)
	default:
		if t.occ.Equal(t.parent.Start) {
			return s.deleteSeries(ctx, owner, *t.parent)
		}
		return s.truncate(ctx, owner, *t.parent, t.occ)
	}
}

// rebase translates start/end values given for the occurrence at occ into
// the equivalent values for the series parent.
func rebase(patch model.EventPatch, parent model.Event, occ time.Time) model.EventPatch {
	if occ.IsZero() || occ.Equal(parent.Start) {
		return patch
	}
	if patch.Start != nil {
		st := parent.Start.Add(patch.Start.Sub(occ))
		patch.Start = &st
	}
	if patch.End != nil {
		en := parent.End.Add(patch.End.Sub(occ.Add(parent.Duration())))
		patch.End = &en
	}
	return patch
}

func (s *Service) updateOccurrence(ctx context.Context, owner string, t target, patch model.EventPatch) (model.Event, error) {
	patch.Recurrence = nil
	patch.ClearRecurrence = false

	if t.found && t.stored.IsOccurrence() {
		return s.store.Update(ctx, owner, t.stored.ID, patch)
	}
	overrides, err := s.overridesByStart(ctx, owner, t.parent.ID)
	if err != nil {
		return model.Event{}, err
	}
	if existing, ok := overrides[t.occ.UnixNano()]; ok {
		return s.store.Update(ctx, owner, existing.ID, patch)
	}

	ov := recurrence.Instance(*t.parent, t.occ)
	patch.Apply(&ov)
	return s.store.Create(ctx, ov)
}

// splitSeries ends parent before occ and starts a new series at occ with
// patch applied. Overrides at or after occ are dropped.
func (s *Service) splitSeries(ctx context.Context, owner string, parent model.Event, occ time.Time, patch model.EventPatch) (model.Event, error) {
	if occ.Equal(parent.Start) {
		return s.store.Update(ctx, owner, parent.ID, patch)
	}
	_, tail, err := splitRule(parent, occ)
	if err != nil {
		return model.Event{}, err
	}

	next := parent
	next.ID = ""
	next.Start = occ
	next.End = occ.Add(parent.Duration())
	next.Recurrence = tail
	next.Conflicts = nil
	patch.Apply(&next)
	created, err := s.store.Create(ctx, next)
	if err != nil {
		return model.Event{}, err
	}

	if err := s.truncate(ctx, owner, parent, occ); err != nil {
		return model.Event{}, err
	}
	appLog.Info("series split", "owner", owner, "event_id", parent.ID, "new_event_id", created.ID)
	return created, nil
}

// truncate ends the series before occ.
func (s *Service) truncate(ctx context.Context, owner string, parent model.Event, occ time.Time) error {
	head, _, err := splitRule(parent, occ)
	if err != nil {
		return err
	}
	if _, err := s.store.Update(ctx, owner, parent.ID, model.EventPatch{Recurrence: head}); err != nil {
		return err
	}

	overrides, err := s.store.ListOverrides(ctx, owner, parent.ID)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if o.OriginalStartTime != nil && !o.OriginalStartTime.Before(occ) {
			if err := s.store.SoftDelete(ctx, owner, o.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

// splitRule divides the rule of parent at occ. head keeps the occurrences
// before occ, tail describes the series starting at occ.
func splitRule(parent model.Event, occ time.Time) (head, tail *model.RecurrenceRule, err error) {
	rule := parent.Recurrence
	idx, ok := recurrence.Index(parent, *rule, occ)
	if !ok || idx == 0 {
		return nil, nil, fmt.Errorf("%w: occurrence %s of %s", store.ErrNotFound, occ.Format(time.RFC3339), parent.ID)
	}
	head = rule.Clone()
	tail = rule.Clone()

	loc := parent.Start.Location()
	y, m, d := occ.In(loc).AddDate(0, 0, -1).Date()
	until := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if head.Until == nil || head.Until.Format(dateKeyLayout) > until.Format(dateKeyLayout) {
		head.Until = &until
	}
	if rule.Count > 0 {
		head.Count = idx
		tail.Count = rule.Count - idx
	}

	key := timerange.DateKey(occ, loc)
	head.Exceptions, tail.Exceptions = nil, nil
	for _, ex := range rule.Exceptions {
		if ex.Format(dateKeyLayout) < key {
			head.Exceptions = append(head.Exceptions, ex)
		} else {
			tail.Exceptions = append(tail.Exceptions, ex)
		}
	}
	return head, tail, nil
}

// deleteOccurrence adds occ's date to the series exceptions and drops a
// stored override of it.
func (s *Service) deleteOccurrence(ctx context.Context, owner string, parent model.Event, occ time.Time) error {
	if !excepted(parent, occ) {
		rule := parent.Recurrence.Clone()
		y, m, d := occ.In(parent.Start.Location()).Date()
		rule.Exceptions = append(rule.Exceptions, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
		if _, err := s.store.Update(ctx, owner, parent.ID, model.EventPatch{Recurrence: rule}); err != nil {
			return err
		}
	}

	overrides, err := s.overridesByStart(ctx, owner, parent.ID)
	if err != nil {
		return err
	}
	if o, ok := overrides[occ.UnixNano()]; ok {
		return s.store.SoftDelete(ctx, owner, o.ID)
	}
	return nil
}

func (s *Service) deleteSeries(ctx context.Context, owner string, parent model.Event) error {
	overrides, err := s.store.ListOverrides(ctx, owner, parent.ID)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if err := s.store.SoftDelete(ctx, owner, o.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return s.store.SoftDelete(ctx, owner, parent.ID)
}
