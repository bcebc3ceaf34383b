package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"eventdesk/internal/model"
	"eventdesk/internal/timerange"
)

// Severity thresholds, as the fraction of the shorter event covered by the
// overlap.
const (
	CriticalFraction = 0.90
	HighFraction     = 0.50
	MediumFraction   = 0.10
)

const (
	DefaultAdjacencyBuffer = 15 * time.Minute
	DefaultTravelBuffer    = 30 * time.Minute
)

// Config controls the soft (non-overlap) checks.
type Config struct {
	// AdjacencyBuffer flags events separated by less than this gap.
	AdjacencyBuffer time.Duration
	// TravelBuffer flags events at different locations separated by less
	// than this gap. Locations are compared as text only; there is no
	// routing, so the check is approximate.
	TravelBuffer time.Duration
	// IncludeCancelled makes cancelled and soft-deleted events count.
	IncludeCancelled bool
}

func DefaultConfig() Config {
	return Config{
		AdjacencyBuffer: DefaultAdjacencyBuffer,
		TravelBuffer:    DefaultTravelBuffer,
	}
}

// Detector finds conflicts between a candidate event and existing events.
// It keeps no state between calls and is safe for concurrent use.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	if cfg.AdjacencyBuffer < 0 {
		cfg.AdjacencyBuffer = 0
	}
	if cfg.TravelBuffer < 0 {
		cfg.TravelBuffer = 0
	}
	return &Detector{cfg: cfg}
}

// Detect compares candidate against every event in others. others must not
// contain the candidate itself. The result is ordered by severity, most
// severe first, then by the conflicting event's start time.
func (d *Detector) Detect(candidate model.Event, others []model.Event) []model.ConflictRecord {
	out := make([]model.ConflictRecord, 0)
	a := timerange.Of(candidate)

	for _, other := range others {
		if !d.cfg.IncludeCancelled && (other.Status == model.StatusCancelled || other.DeletedAt != nil) {
			continue
		}
		b := timerange.Of(other)

		if timerange.Overlaps(a, b) {
			out = append(out, overlapRecord(candidate, other, a, b))
			continue
		}

		gap := timerange.Gap(a, b)
		if rec, ok := d.travelRecord(candidate, other, gap); ok {
			out = append(out, rec)
			continue
		}
		if gap < d.cfg.AdjacencyBuffer {
			out = append(out, adjacentRecord(candidate, other, gap))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].ConflictingStart.Before(out[j].ConflictingStart)
	})
	return out
}

// Severity maps an overlap fraction to a severity.
func Severity(fraction float64) model.Severity {
	switch {
	case fraction >= CriticalFraction:
		return model.SeverityCritical
	case fraction >= HighFraction:
		return model.SeverityHigh
	case fraction >= MediumFraction:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func overlapRecord(candidate, other model.Event, a, b timerange.Range) model.ConflictRecord {
	inter := timerange.Intersection(a, b)
	shorter := a.Duration()
	if d := b.Duration(); d < shorter {
		shorter = d
	}
	fraction := 1.0
	if shorter > 0 {
		fraction = float64(inter) / float64(shorter)
	}
	sev := Severity(fraction)
	minutes := int(inter / time.Minute)

	return model.ConflictRecord{
		EventID:            candidate.ID,
		ConflictingEventID: other.ID,
		ConflictingTitle:   other.Title,
		ConflictingStart:   b.Start,
		Type:               model.ConflictOverlap,
		Severity:           sev,
		OverlapMinutes:     minutes,
		Message:            fmt.Sprintf("Overlaps %q by %d minutes", other.Title, minutes),
		Suggestion:         overlapSuggestion(sev),
	}
}

func overlapSuggestion(sev model.Severity) string {
	switch sev {
	case model.SeverityCritical:
		return "Events almost entirely coincide; reschedule one of them"
	case model.SeverityHigh:
		return "Most of the shorter event is double-booked; consider moving it"
	case model.SeverityMedium:
		return "Shorten or shift one event to remove the overlap"
	default:
		return "Minor overlap; a small adjustment resolves it"
	}
}

func (d *Detector) travelRecord(candidate, other model.Event, gap time.Duration) (model.ConflictRecord, bool) {
	from, to := normalizeLocation(candidate.Location), normalizeLocation(other.Location)
	if from == "" || to == "" || from == to || gap >= d.cfg.TravelBuffer {
		return model.ConflictRecord{}, false
	}
	sev := model.SeverityMedium
	if gap < d.cfg.TravelBuffer/2 {
		sev = model.SeverityHigh
	}
	minutes := int(gap / time.Minute)
	return model.ConflictRecord{
		EventID:            candidate.ID,
		ConflictingEventID: other.ID,
		ConflictingTitle:   other.Title,
		ConflictingStart:   timerange.Of(other).Start,
		Type:               model.ConflictTravelTime,
		Severity:           sev,
		GapMinutes:         minutes,
		Message: fmt.Sprintf("Only %d minutes between %q and %q at a different location",
			minutes, candidate.Location, other.Location),
		Suggestion: fmt.Sprintf("Leave at least %d minutes to travel between locations", int(d.cfg.TravelBuffer/time.Minute)),
	}, true
}

func adjacentRecord(candidate, other model.Event, gap time.Duration) model.ConflictRecord {
	sev := model.SeverityLow
	if gap == 0 {
		sev = model.SeverityMedium
	}
	minutes := int(gap / time.Minute)
	msg := fmt.Sprintf("Back-to-back with %q", other.Title)
	if gap > 0 {
		msg = fmt.Sprintf("Only %d minutes apart from %q", minutes, other.Title)
	}
	return model.ConflictRecord{
		EventID:            candidate.ID,
		ConflictingEventID: other.ID,
		ConflictingTitle:   other.Title,
		ConflictingStart:   timerange.Of(other).Start,
		Type:               model.ConflictAdjacent,
		Severity:           sev,
		GapMinutes:         minutes,
		Message:            msg,
		Suggestion:         "Add a short buffer between the events",
	}
}

func normalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
