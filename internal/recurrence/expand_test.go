package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/model"
)

func parentAt(start time.Time, dur time.Duration) model.Event {
	return model.Event{
		ID:          "p1",
		OwnerID:     "alice",
		Title:       "Weekly sync",
		Description: "Agenda in doc",
		Location:    "Room 4",
		Start:       start,
		End:         start.Add(dur),
		Priority:    model.PriorityHigh,
		Visibility:  model.VisibilityPublic,
		Status:      model.StatusConfirmed,
	}
}

func TestExpandWeeklyCount(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	rule := model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, Count: 5}

	got, err := Expand(parent, rule, start.AddDate(1, 0, 0), 100)
	require.NoError(t, err)
	require.Len(t, got, 4)

	prev := parent.Start
	for _, inst := range got {
		assert.Equal(t, 7*24*time.Hour, inst.Start.Sub(prev))
		assert.Equal(t, time.Hour, inst.Duration())
		assert.Equal(t, "p1", inst.ParentEventID)
		require.NotNil(t, inst.OriginalStartTime)
		assert.Equal(t, inst.Start, *inst.OriginalStartTime)
		assert.Equal(t, parent.Title, inst.Title)
		assert.Equal(t, parent.Description, inst.Description)
		assert.Equal(t, parent.Location, inst.Location)
		assert.Equal(t, parent.Priority, inst.Priority)
		assert.Equal(t, parent.Visibility, inst.Visibility)
		assert.Equal(t, parent.Status, inst.Status)
		assert.Nil(t, inst.Recurrence)
		assert.NotEqual(t, parent.ID, inst.ID)
		prev = inst.Start
	}
}

func TestExpandExceptionSkip(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	rule := model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, Count: 5}
	horizon := start.AddDate(1, 0, 0)

	without, err := Expand(parent, rule, horizon, 100)
	require.NoError(t, err)

	excepted := without[2].Start
	rule.Exceptions = []time.Time{time.Date(excepted.Year(), excepted.Month(), excepted.Day(), 0, 0, 0, 0, time.UTC)}
	with, err := Expand(parent, rule, horizon, 100)
	require.NoError(t, err)

	assert.Len(t, with, len(without)-1)
	for _, inst := range with {
		assert.NotEqual(t, excepted.Format("2006-01-02"), inst.Start.Format("2006-01-02"))
	}
}

func TestExpandMonthlyClampsDayOfMonth(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 31, 9, 30, 0, 0, time.UTC)
	parent := parentAt(start, 30*time.Minute)
	rule := model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, Count: 5}

	got, err := Expand(parent, rule, start.AddDate(2, 0, 0), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)

	want := []time.Time{
		time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 9, 30, 0, 0, time.UTC),
		time.Date(2025, 4, 30, 9, 30, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 9, 30, 0, 0, time.UTC),
	}
	for i, inst := range got {
		assert.Equal(t, want[i], inst.Start)
	}
}

func TestExpandYearlyLeapDay(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	rule := model.RecurrenceRule{Frequency: model.FrequencyYearly, Interval: 1}

	got, err := Expand(parent, rule, time.Date(2028, 12, 31, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), got[0].Start)
	assert.Equal(t, time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC), got[3].Start)
}

func TestExpandStopsAtUntilHorizonAndCap(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)

	until := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	got, err := Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, Until: &until}, start.AddDate(1, 0, 0), 0)
	require.NoError(t, err)
	require.Len(t, got, 4, "until is inclusive at date level")
	assert.Equal(t, time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC), got[3].Start)

	got, err = Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 2}, start.AddDate(0, 0, 7), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}, start.AddDate(5, 0, 0), 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestExpandIdempotent(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	rule := model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 3, Count: 20}

	first, err := Expand(parent, rule, start.AddDate(1, 0, 0), 50)
	require.NoError(t, err)
	second, err := Expand(parent, rule, start.AddDate(1, 0, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpandRejectsInvalidRule(t *testing.T) {
	t.Parallel()

	parent := parentAt(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), time.Hour)

	_, err := Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 0}, parent.End, 0)
	require.Error(t, err)
	_, err = Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: -2}, parent.End, 0)
	require.Error(t, err)
	_, err = Expand(parent, model.RecurrenceRule{Frequency: "fortnightly", Interval: 1}, parent.End, 0)
	require.Error(t, err)
}

func TestExpandKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, ny)
	parent := parentAt(start, time.Hour)

	got, err := Expand(parent, model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, Count: 2}, start.AddDate(0, 1, 0), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9, got[0].Start.Hour())
}

func TestOccurrencesWithinRange(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	parent.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}

	from := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 3)
	got, err := Occurrences(parent, from, to, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2027, 6, 1, 9, 0, 0, 0, time.UTC), got[0].Start)

	got, err = Occurrences(parent, start.Add(-time.Hour), start.Add(25*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p1", got[1].ParentEventID)
}

func TestRRuleRoundTrip(t *testing.T) {
	t.Parallel()

	until := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 2, Until: &until}

	text, err := FormatRRule(rule)
	require.NoError(t, err)
	assert.Contains(t, text, "FREQ=WEEKLY")
	assert.Contains(t, text, "INTERVAL=2")

	back, err := ParseRRule(text)
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyWeekly, back.Frequency)
	assert.Equal(t, 2, back.Interval)
	require.NotNil(t, back.Until)
	assert.Equal(t, "2025-12-31", back.Until.Format("2006-01-02"))

	counted, err := ParseRRule("FREQ=MONTHLY;COUNT=6")
	require.NoError(t, err)
	assert.Equal(t, 1, counted.Interval)
	assert.Equal(t, 6, counted.Count)

	_, err = ParseRRule("FREQ=WEEKLY;BYDAY=MO,WE")
	require.Error(t, err)
	_, err = ParseRRule("FREQ=HOURLY")
	require.Error(t, err)
	_, err = ParseRRule("")
	require.Error(t, err)
}

func TestInstanceIDRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 13, 19, 0, 0, 0, time.FixedZone("KST", 9*3600))
	id := InstanceID("series_one", start)
	assert.Equal(t, "series_one_20250113T100000Z", id)

	parent, at, ok := ParseInstanceID(id)
	require.True(t, ok)
	assert.Equal(t, "series_one", parent)
	assert.True(t, start.Equal(at))

	for _, bad := range []string{"plain-uuid", "_20250113T100000Z", "p_", "p_notatime"} {
		_, _, ok := ParseInstanceID(bad)
		assert.False(t, ok, bad)
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	parent := parentAt(start, time.Hour)
	rule := model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, Count: 4}

	i, ok := Index(parent, rule, start)
	require.True(t, ok)
	assert.Equal(t, 0, i)

	i, ok = Index(parent, rule, time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = Index(parent, rule, time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	_, ok = Index(parent, rule, time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC))
	assert.False(t, ok, "past count")
	_, ok = Index(parent, rule, start.AddDate(0, -1, 0))
	assert.False(t, ok)
}
