// Package store persists events and the conflict audit log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventdesk/internal/model"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate id")
)

// Store is the persistence boundary used by the calendar service. Every
// read and write is scoped by owner.
type Store interface {
	Create(ctx context.Context, e model.Event) (model.Event, error)
	Update(ctx context.Context, owner, id string, patch model.EventPatch) (model.Event, error)
	Get(ctx context.Context, owner, id string) (model.Event, error)
	// ListInRange returns live events intersecting [start, end) plus every
	// recurring parent that starts before end.
	ListInRange(ctx context.Context, owner string, start, end time.Time) ([]model.Event, error)
	// ListOverrides returns the live stored overrides of a recurring parent.
	ListOverrides(ctx context.Context, owner, parentID string) ([]model.Event, error)
	SoftDelete(ctx context.Context, owner, id string) error

	// RecordConflicts stores audits not seen before and returns how many
	// were new.
	RecordConflicts(ctx context.Context, audits []model.ConflictAudit) (int, error)
	// ListConflicts returns audits involving eventID, or all of the owner's
	// audits when eventID is empty, newest first.
	ListConflicts(ctx context.Context, owner, eventID string) ([]model.ConflictAudit, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured driver and applies its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres, "postgresql", "pgx":
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}

const eventColumns = `id, owner_id, title, description, location, meeting_url,
	start_ns, end_ns, all_day, timezone, priority, visibility, status,
	recurrence, parent_event_id, original_start_ns, deleted_at_ns,
	created_at_ns, updated_at_ns`

const (
	insertEventSQL = `INSERT INTO events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateEventSQL = `UPDATE events SET
	title = ?, description = ?, location = ?, meeting_url = ?,
	start_ns = ?, end_ns = ?, all_day = ?, timezone = ?,
	priority = ?, visibility = ?, status = ?, recurrence = ?, updated_at_ns = ?
	WHERE owner_id = ? AND id = ? AND deleted_at_ns = 0`

	getEventSQL = `SELECT ` + eventColumns + ` FROM events
	WHERE owner_id = ? AND id = ? AND deleted_at_ns = 0`

	listRangeSQL = `SELECT ` + eventColumns + ` FROM events
	WHERE owner_id = ? AND deleted_at_ns = 0
	  AND start_ns < ? AND (end_ns > ? OR recurrence <> '')
	ORDER BY start_ns, id`

	listOverridesSQL = `SELECT ` + eventColumns + ` FROM events
	WHERE owner_id = ? AND parent_event_id = ? AND deleted_at_ns = 0
	ORDER BY original_start_ns`

	softDeleteSQL = `UPDATE events SET deleted_at_ns = ?, updated_at_ns = ?
	WHERE owner_id = ? AND id = ? AND deleted_at_ns = 0`

	insertAuditSQL = `INSERT INTO conflict_audit
	(owner_id, event_id, conflicting_event_id, type, severity, overlap_minutes, detected_at_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, event_id, conflicting_event_id, type) DO NOTHING`

	listAuditSQL = `SELECT id, owner_id, event_id, conflicting_event_id, type, severity,
	overlap_minutes, detected_at_ns
	FROM conflict_audit
	WHERE owner_id = ? AND (? = '' OR event_id = ? OR conflicting_event_id = ?)
	ORDER BY detected_at_ns DESC, id DESC`
)

// rebind rewrites ? placeholders to $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

// prepareCreate fills the identity and bookkeeping fields of a new event.
func prepareCreate(e model.Event, now time.Time) (model.Event, error) {
	model.Normalize(&e)
	if e.OwnerID == "" {
		return e, &model.ValidationError{Field: "owner_id", Reason: "is required"}
	}
	if err := model.Validate(e); err != nil {
		return e, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.DeletedAt = nil
	e.Conflicts = nil
	return e, nil
}

func applyPatch(e model.Event, patch model.EventPatch, now time.Time) (model.Event, error) {
	patch.Apply(&e)
	model.Normalize(&e)
	if err := model.Validate(e); err != nil {
		return e, err
	}
	e.UpdatedAt = now
	return e, nil
}

func insertArgs(e model.Event) ([]any, error) {
	rec, err := encodeRule(e.Recurrence)
	if err != nil {
		return nil, err
	}
	var orig int64
	if e.OriginalStartTime != nil {
		orig = e.OriginalStartTime.UnixNano()
	}
	return []any{
		e.ID, e.OwnerID, e.Title, e.Description, e.Location, e.MeetingURL,
		e.Start.UnixNano(), e.End.UnixNano(), e.AllDay, e.Timezone,
		string(e.Priority), string(e.Visibility), string(e.Status),
		rec, e.ParentEventID, orig, int64(0),
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	}, nil
}

func updateArgs(e model.Event) ([]any, error) {
	rec, err := encodeRule(e.Recurrence)
	if err != nil {
		return nil, err
	}
	return []any{
		e.Title, e.Description, e.Location, e.MeetingURL,
		e.Start.UnixNano(), e.End.UnixNano(), e.AllDay, e.Timezone,
		string(e.Priority), string(e.Visibility), string(e.Status), rec,
		e.UpdatedAt.UnixNano(),
		e.OwnerID, e.ID,
	}, nil
}

func scanEvent(sc scanner) (model.Event, error) {
	var (
		e                                 model.Event
		priority, visibility, status, rec string
		startNs, endNs, origNs, deletedNs int64
		createdNs, updatedNs              int64
	)
	err := sc.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Location, &e.MeetingURL,
		&startNs, &endNs, &e.AllDay, &e.Timezone, &priority, &visibility, &status,
		&rec, &e.ParentEventID, &origNs, &deletedNs, &createdNs, &updatedNs,
	)
	if err != nil {
		return e, err
	}

	loc := location(e.Timezone)
	e.Start = fromNanos(startNs, loc)
	e.End = fromNanos(endNs, loc)
	e.CreatedAt = fromNanos(createdNs, time.UTC)
	e.UpdatedAt = fromNanos(updatedNs, time.UTC)
	e.Priority = model.Priority(priority)
	e.Visibility = model.Visibility(visibility)
	e.Status = model.Status(status)
	if origNs != 0 {
		t := fromNanos(origNs, loc)
		e.OriginalStartTime = &t
	}
	if deletedNs != 0 {
		t := fromNanos(deletedNs, time.UTC)
		e.DeletedAt = &t
	}
	if e.Recurrence, err = decodeRule(rec); err != nil {
		return e, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return e, nil
}

func auditArgs(a model.ConflictAudit) []any {
	return []any{
		a.OwnerID, a.EventID, a.ConflictingEventID, string(a.Type), string(a.Severity),
		a.OverlapMinutes, a.DetectedAt.UnixNano(),
	}
}

func scanAudit(sc scanner) (model.ConflictAudit, error) {
	var (
		a          model.ConflictAudit
		typ, sev   string
		overlap    int64
		detectedNs int64
	)
	if err := sc.Scan(&a.ID, &a.OwnerID, &a.EventID, &a.ConflictingEventID, &typ, &sev, &overlap, &detectedNs); err != nil {
		return a, err
	}
	a.Type = model.ConflictType(typ)
	a.Severity = model.Severity(sev)
	a.OverlapMinutes = int(overlap)
	a.DetectedAt = fromNanos(detectedNs, time.UTC)
	return a, nil
}

func listAuditArgs(owner, eventID string) []any {
	return []any{owner, eventID, eventID, eventID}
}

// encodeRule stores a rule as JSON; no rule is the empty string.
func encodeRule(r *model.RecurrenceRule) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode recurrence: %w", err)
	}
	return string(b), nil
}

func decodeRule(s string) (*model.RecurrenceRule, error) {
	if s == "" {
		return nil, nil
	}
	var r model.RecurrenceRule
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("decode recurrence: %w", err)
	}
	return &r, nil
}

func fromNanos(ns int64, loc *time.Location) time.Time {
	return time.Unix(0, ns).In(loc)
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
