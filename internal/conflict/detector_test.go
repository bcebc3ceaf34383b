package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/model"
)

func at(h, m int) time.Time {
	return time.Date(2025, 6, 2, h, m, 0, 0, time.UTC)
}

func ev(id string, start, end time.Time) model.Event {
	return model.Event{ID: id, Title: id, Start: start, End: end, Status: model.StatusConfirmed}
}

func TestDetectOverlapArithmetic(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	a := ev("a", at(10, 0), at(11, 0))
	b := ev("b", at(10, 30), at(11, 30))

	got := d.Detect(a, []model.Event{b})
	require.Len(t, got, 1)
	assert.Equal(t, model.ConflictOverlap, got[0].Type)
	assert.Equal(t, 30, got[0].OverlapMinutes)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Equal(t, "a", got[0].EventID)
	assert.Equal(t, "b", got[0].ConflictingEventID)
	assert.NotEmpty(t, got[0].Suggestion)
}

func TestDetectNoOthers(t *testing.T) {
	t.Parallel()

	got := NewDetector(DefaultConfig()).Detect(ev("a", at(10, 0), at(11, 0)), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDetectSymmetry(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	pairs := [][2]model.Event{
		{ev("a", at(10, 0), at(11, 0)), ev("b", at(10, 30), at(11, 30))},
		{ev("a", at(9, 0), at(17, 0)), ev("b", at(12, 0), at(12, 20))},
		{ev("a", at(8, 0), at(9, 0)), ev("b", at(8, 55), at(10, 0))},
		{ev("a", at(8, 0), at(9, 0)), ev("b", at(9, 0), at(10, 0))},
	}

	for _, p := range pairs {
		ab := d.Detect(p[0], []model.Event{p[1]})
		ba := d.Detect(p[1], []model.Event{p[0]})
		require.Equal(t, len(ab), len(ba))
		for i := range ab {
			assert.Equal(t, ab[i].Type, ba[i].Type)
			assert.Equal(t, ab[i].OverlapMinutes, ba[i].OverlapMinutes)
			assert.Equal(t, ab[i].Severity, ba[i].Severity)
		}
	}
}

func TestSeverityThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		other    model.Event
		severity model.Severity
		minutes  int
	}{
		{name: "identical", other: ev("b", at(10, 0), at(11, 0)), severity: model.SeverityCritical, minutes: 60},
		{name: "ninety percent", other: ev("b", at(10, 6), at(12, 0)), severity: model.SeverityCritical, minutes: 54},
		{name: "just under ninety", other: ev("b", at(10, 7), at(12, 0)), severity: model.SeverityHigh, minutes: 53},
		{name: "half", other: ev("b", at(10, 30), at(12, 0)), severity: model.SeverityHigh, minutes: 30},
		{name: "ten percent", other: ev("b", at(10, 54), at(12, 0)), severity: model.SeverityMedium, minutes: 6},
		{name: "under ten percent", other: ev("b", at(10, 55), at(12, 0)), severity: model.SeverityLow, minutes: 5},
		{name: "contained short event", other: ev("b", at(10, 20), at(10, 30)), severity: model.SeverityCritical, minutes: 10},
	}

	d := NewDetector(DefaultConfig())
	candidate := ev("a", at(10, 0), at(11, 0))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := d.Detect(candidate, []model.Event{tt.other})
			require.Len(t, got, 1)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.Equal(t, tt.minutes, got[0].OverlapMinutes)
		})
	}
}

func TestAdjacencyNeverCritical(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	candidate := ev("a", at(10, 0), at(11, 0))

	got := d.Detect(candidate, []model.Event{
		ev("touching", at(11, 0), at(12, 0)),
		ev("close", at(8, 0), at(9, 50)),
		ev("far", at(13, 0), at(14, 0)),
	})
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, model.ConflictAdjacent, c.Type)
		assert.NotEqual(t, model.SeverityCritical, c.Severity)
	}
	assert.Equal(t, "touching", got[0].ConflictingEventID)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, "close", got[1].ConflictingEventID)
	assert.Equal(t, model.SeverityLow, got[1].Severity)
	assert.Equal(t, 10, got[1].GapMinutes)
}

func TestTravelTimeHeuristic(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	candidate := ev("a", at(10, 0), at(11, 0))
	candidate.Location = "Head Office"

	elsewhere := ev("b", at(11, 20), at(12, 0))
	elsewhere.Location = "Client Site"
	sameRoom := ev("c", at(11, 20), at(12, 0))
	sameRoom.Location = "  head   office "
	unknown := ev("d", at(11, 20), at(12, 0))

	got := d.Detect(candidate, []model.Event{elsewhere})
	require.Len(t, got, 1)
	assert.Equal(t, model.ConflictTravelTime, got[0].Type)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, 20, got[0].GapMinutes)

	elsewhere.Start = at(11, 5)
	got = d.Detect(candidate, []model.Event{elsewhere})
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)

	assert.Empty(t, d.Detect(candidate, []model.Event{sameRoom}))
	assert.Empty(t, d.Detect(candidate, []model.Event{unknown}))
}

func TestOrderingBySeverityThenStart(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	candidate := ev("a", at(9, 0), at(12, 0))

	got := d.Detect(candidate, []model.Event{
		ev("low-late", at(11, 55), at(14, 0)),
		ev("crit-late", at(11, 0), at(11, 30)),
		ev("crit-early", at(9, 0), at(9, 30)),
		ev("adjacent", at(12, 5), at(13, 0)),
	})
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ConflictingEventID)
	}
	assert.Equal(t, []string{"crit-early", "crit-late", "low-late", "adjacent"}, ids)
}

func TestCancelledEventsIgnoredByDefault(t *testing.T) {
	t.Parallel()

	candidate := ev("a", at(10, 0), at(11, 0))
	cancelled := ev("b", at(10, 0), at(11, 0))
	cancelled.Status = model.StatusCancelled

	assert.Empty(t, NewDetector(DefaultConfig()).Detect(candidate, []model.Event{cancelled}))

	cfg := DefaultConfig()
	cfg.IncludeCancelled = true
	assert.Len(t, NewDetector(cfg).Detect(candidate, []model.Event{cancelled}), 1)
}

func TestAllDayEventsCompareByDate(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultConfig())
	holiday := model.Event{
		ID:     "holiday",
		Title:  "Holiday",
		AllDay: true,
		Start:  time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
	}
	meeting := ev("m", at(15, 0), at(16, 0))

	got := d.Detect(meeting, []model.Event{holiday})
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0].OverlapMinutes)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
}
