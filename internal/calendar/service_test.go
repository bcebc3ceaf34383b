package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/codec"
	"eventdesk/internal/conflict"
	"eventdesk/internal/model"
	"eventdesk/internal/optimizer"
	"eventdesk/internal/recurrence"
	"eventdesk/internal/store"
)

var (
	clock  = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	monday = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	month  = [2]time.Time{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := func() time.Time { return clock }
	optOpts := optimizer.DefaultOptions()
	optOpts.Now = now
	return New(st,
		conflict.NewDetector(conflict.DefaultConfig()),
		optimizer.New(optOpts),
		codec.New(codec.Options{Now: now}),
		Options{Now: now},
	)
}

func event(title string, start time.Time, dur time.Duration) model.Event {
	return model.Event{Title: title, Start: start, End: start.Add(dur)}
}

func series(t *testing.T, s *Service, freq model.Frequency, count int) model.Event {
	t.Helper()
	e := event("Standup", monday, time.Hour)
	e.Recurrence = &model.RecurrenceRule{Frequency: freq, Interval: 1, Count: count}
	created, err := s.Create(context.Background(), "alice", e)
	require.NoError(t, err)
	return created
}

func titles(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{in: "", want: ScopeAll},
		{in: "this", want: ScopeThis},
		{in: " THIS_AND_FUTURE ", want: ScopeThisAndFuture},
		{in: "all", want: ScopeAll},
		{in: "some", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, model.ErrValidation)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCreateAttachesConflicts(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "alice", event("Review", monday.Add(time.Hour), time.Hour))
	require.NoError(t, err)
	assert.Empty(t, a.Conflicts)

	b, err := s.Create(ctx, "alice", event("Sync", monday.Add(90*time.Minute), time.Hour))
	require.NoError(t, err)
	require.Len(t, b.Conflicts, 1)
	assert.Equal(t, a.ID, b.Conflicts[0].ConflictingEventID)
	assert.Equal(t, model.ConflictOverlap, b.Conflicts[0].Type)

	other, err := s.Create(ctx, "bob", event("Elsewhere", monday.Add(time.Hour), time.Hour))
	require.NoError(t, err)
	assert.Empty(t, other.Conflicts)

	_, err = s.Create(ctx, "alice", event("", monday, time.Hour))
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestListRangeExpandsSeries(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	parent := series(t, s, model.FrequencyWeekly, 4)
	single, err := s.Create(ctx, "alice", event("Lunch", monday.AddDate(0, 0, 1).Add(3*time.Hour), time.Hour))
	require.NoError(t, err)

	got, err := s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, parent.ID, got[0].ID)
	assert.Equal(t, single.ID, got[1].ID)
	assert.Equal(t, recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 7)), got[2].ID)
	assert.Equal(t, parent.ID, got[2].ParentEventID)
	assert.True(t, monday.AddDate(0, 0, 21).Equal(got[4].Start))

	_, err = s.ListRange(ctx, "alice", month[1], month[0])
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestListRangeRecordsConflicts(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "alice", event("A", monday, time.Hour))
	require.NoError(t, err)
	b, err := s.Create(ctx, "alice", event("B", monday.Add(30*time.Minute), time.Hour))
	require.NoError(t, err)

	got, err := s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0].Conflicts, 1)
	assert.Len(t, got[1].Conflicts, 1)

	_, err = s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)

	audits, err := s.Conflicts(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, audits, 2)

	forA, err := s.Conflicts(ctx, "alice", a.ID)
	require.NoError(t, err)
	assert.Len(t, forA, 2)
	for _, au := range forA {
		assert.Contains(t, []string{a.ID, b.ID}, au.EventID)
	}
}

func TestGetOccurrence(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	parent := series(t, s, model.FrequencyWeekly, 4)

	id := recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 14))
	got, err := s.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, parent.ID, got.ParentEventID)
	assert.Nil(t, got.Recurrence)

	_, err = s.Get(ctx, "alice", recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 28)))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "alice", recurrence.InstanceID(parent.ID, monday.Add(time.Minute)))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateThisOccurrence(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	parent := series(t, s, model.FrequencyWeekly, 4)

	orig := monday.AddDate(0, 0, 7)
	id := recurrence.InstanceID(parent.ID, orig)
	title := "Moved"
	start, end := orig.Add(5*time.Hour), orig.Add(6*time.Hour)

	ov, err := s.Update(ctx, "alice", id, model.EventPatch{Title: &title, Start: &start, End: &end}, ScopeThis, nil)
	require.NoError(t, err)
	assert.Equal(t, id, ov.ID)
	assert.Equal(t, parent.ID, ov.ParentEventID)
	require.NotNil(t, ov.OriginalStartTime)
	assert.True(t, orig.Equal(*ov.OriginalStartTime))

	got, err := s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"Standup", "Moved", "Standup", "Standup"}, titles(got))
	assert.True(t, start.Equal(got[1].Start))

	again := "Moved twice"
	ov, err = s.Update(ctx, "alice", id, model.EventPatch{Title: &again}, ScopeThis, nil)
	require.NoError(t, err)
	assert.Equal(t, "Moved twice", ov.Title)
	assert.True(t, start.Equal(ov.Start))

	occ := monday.AddDate(0, 0, 14)
	third := "Third"
	_, err = s.Update(ctx, "alice", parent.ID, model.EventPatch{Title: &third}, ScopeThis, &occ)
	require.NoError(t, err)

	got, err = s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)
	assert.Equal(t, []string{"Standup", "Moved twice", "Third", "Standup"}, titles(got))

	p, err := s.Get(ctx, "alice", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup", p.Title)

	_, err = s.Update(ctx, "alice", parent.ID, model.EventPatch{Title: &third}, ScopeThis, nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestUpdateAllFromOccurrence(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	parent := series(t, s, model.FrequencyWeekly, 4)

	orig := monday.AddDate(0, 0, 7)
	start, end := orig.Add(2*time.Hour), orig.Add(3*time.Hour)
	got, err := s.Update(ctx, "alice", recurrence.InstanceID(parent.ID, orig), model.EventPatch{Start: &start, End: &end}, ScopeAll, nil)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, got.ID)
	assert.True(t, monday.Add(2*time.Hour).Equal(got.Start))
	assert.True(t, monday.Add(3*time.Hour).Equal(got.End))
}

func TestUpdateThisAndFuture(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	parent := series(t, s, model.FrequencyDaily, 10)

	// An override past the split point is dropped with the old tail.
	late := monday.AddDate(0, 0, 5)
	moved := "Moved"
	_, err := s.Update(ctx, "alice", recurrence.InstanceID(parent.ID, late), model.EventPatch{Title: &moved}, ScopeThis, nil)
	require.NoError(t, err)

	split := monday.AddDate(0, 0, 3)
	title := "Later"
	next, err := s.Update(ctx, "alice", recurrence.InstanceID(parent.ID, split), model.EventPatch{Title: &title}, ScopeThisAndFuture, nil)
	require.NoError(t, err)
	assert.NotEqual(t, parent.ID, next.ID)
	assert.True(t, split.Equal(next.Start))
	require.NotNil(t, next.Recurrence)
	assert.Equal(t, 7, next.Recurrence.Count)

	old, err := s.Get(ctx, "alice", parent.ID)
	require.NoError(t, err)
	require.NotNil(t, old.Recurrence)
	assert.Equal(t, 3, old.Recurrence.Count)
	require.NotNil(t, old.Recurrence.Until)
	assert.Equal(t, "2025-01-08", old.Recurrence.Until.Format("2006-01-02"))

	got, err := s.ListRange(ctx, "alice", month[0], month[1])
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "Standup", got[2].Title)
	for _, e := range got[3:] {
		assert.Equal(t, "Later", e.Title)
	}
}

func TestDeleteScopes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("this", func(t *testing.T) {
		t.Parallel()
		s := newTestService(t)
		parent := series(t, s, model.FrequencyWeekly, 4)
		occ := monday.AddDate(0, 0, 14)

		require.NoError(t, s.Delete(ctx, "alice", recurrence.InstanceID(parent.ID, occ), ScopeThis, nil))
		got, err := s.ListRange(ctx, "alice", month[0], month[1])
		require.NoError(t, err)
		assert.Len(t, got, 3)

		p, err := s.Get(ctx, "alice", parent.ID)
		require.NoError(t, err)
		require.Len(t, p.Recurrence.Exceptions, 1)
		assert.Equal(t, "2025-01-20", p.Recurrence.Exceptions[0].Format("2006-01-02"))

		err = s.Delete(ctx, "alice", recurrence.InstanceID(parent.ID, occ), ScopeThis, nil)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("this on the first occurrence", func(t *testing.T) {
		t.Parallel()
		s := newTestService(t)
		parent := series(t, s, model.FrequencyWeekly, 4)

		require.NoError(t, s.Delete(ctx, "alice", parent.ID, ScopeThis, &monday))
		got, err := s.ListRange(ctx, "alice", month[0], month[1])
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, monday.AddDate(0, 0, 7).Equal(got[0].Start))
	})

	t.Run("this and future", func(t *testing.T) {
		t.Parallel()
		s := newTestService(t)
		parent := series(t, s, model.FrequencyDaily, 10)

		require.NoError(t, s.Delete(ctx, "alice", recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 4)), ScopeThisAndFuture, nil))
		got, err := s.ListRange(ctx, "alice", month[0], month[1])
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("all", func(t *testing.T) {
		t.Parallel()
		s := newTestService(t)
		parent := series(t, s, model.FrequencyWeekly, 4)
		title := "Kept aside"
		_, err := s.Update(ctx, "alice", recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 7)), model.EventPatch{Title: &title}, ScopeThis, nil)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "alice", parent.ID, ScopeAll, nil))
		got, err := s.ListRange(ctx, "alice", month[0], month[1])
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.Get(ctx, "alice", parent.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("single", func(t *testing.T) {
		t.Parallel()
		s := newTestService(t)
		e, err := s.Create(ctx, "alice", event("Once", monday, time.Hour))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "alice", e.ID, ScopeAll, nil))
		require.ErrorIs(t, s.Delete(ctx, "alice", e.ID, ScopeAll, nil), store.ErrNotFound)
	})
}

func TestExpandSeriesUsesOverrides(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	parent := series(t, s, model.FrequencyWeekly, 4)

	title := "Special"
	_, err := s.Update(ctx, "alice", recurrence.InstanceID(parent.ID, monday.AddDate(0, 0, 14)), model.EventPatch{Title: &title}, ScopeThis, nil)
	require.NoError(t, err)

	got, err := s.ExpandSeries(ctx, "alice", parent.ID, month[1], 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Standup", "Special", "Standup"}, titles(got))

	single, err := s.Create(ctx, "alice", event("Once", monday.AddDate(0, 1, 0), time.Hour))
	require.NoError(t, err)
	_, err = s.ExpandSeries(ctx, "alice", single.ID, month[1], 0)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCheckConflictsSuggestsSlots(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "alice", event("Busy", monday.Add(time.Hour), time.Hour))
	require.NoError(t, err)

	records, err := s.CheckConflicts(ctx, "alice", event("Candidate", monday.Add(90*time.Minute), time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.ConflictOverlap, records[0].Type)
	require.NotEmpty(t, records[0].SuggestedSlots)
	for _, slot := range records[0].SuggestedSlots {
		assert.False(t, slot.Start.Before(monday.Add(90*time.Minute)))
	}

	free, err := s.CheckConflicts(ctx, "alice", event("Free", monday.AddDate(0, 0, 2), time.Hour))
	require.NoError(t, err)
	assert.Empty(t, free)

	_, err = s.SuggestSlots(ctx, "alice", event("Candidate", monday, time.Hour), 0)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestImportExport(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	series(t, s, model.FrequencyWeekly, 4)
	lunch := event("Lunch", monday.Add(3*time.Hour), time.Hour)
	lunch.Location = "Cafe"
	_, err := s.Create(ctx, "alice", lunch)
	require.NoError(t, err)

	for _, format := range []codec.Format{codec.FormatJSON, codec.FormatICS} {
		data, err := s.Export(ctx, "alice", month[0], month[1], format)
		require.NoError(t, err)

		owner := "bob-" + string(format)
		sum, err := s.Import(ctx, owner, data, format, ImportOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Imported, format)
		assert.Zero(t, sum.Skipped, format)

		got, err := s.ListRange(ctx, owner, month[0], month[1])
		require.NoError(t, err)
		assert.Len(t, got, 5, format)

		sum, err = s.Import(ctx, owner, data, format, ImportOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Duplicates, format)

		sum, err = s.Import(ctx, owner, data, format, ImportOptions{Replace: true})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Updated, format)
	}

	data, err := s.Export(ctx, "alice", month[0], month[1], codec.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(strings.TrimSpace(string(data)), "\n")+1)
}

func TestImportReportsInvalidRecords(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	doc := `[
		{"title": "Ok", "start": "2025-01-06T10:00:00Z", "end": "2025-01-06T11:00:00Z"},
		{"uid": "bad", "title": "Bad", "start": "2025-01-06T10:00:00Z", "end": "2025-01-06T11:00:00Z", "meeting_url": "ftp://example.com"},
		{"title": "", "start": "2025-01-06T10:00:00Z", "end": "2025-01-06T11:00:00Z"}
	]`
	sum, err := s.Import(context.Background(), "alice", []byte(doc), codec.FormatJSON, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)
	assert.Equal(t, 2, sum.Skipped)
	require.Len(t, sum.Errors, 2)
	assert.Equal(t, 2, sum.Errors[0].Index)
	assert.Equal(t, 1, sum.Errors[1].Index)
	assert.Equal(t, "bad", sum.Errors[1].UID)

	_, err = s.Import(context.Background(), "alice", []byte("not json"), codec.FormatJSON, ImportOptions{})
	require.Error(t, err)
}
