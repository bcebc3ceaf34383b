package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eventdesk/internal/model"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the default store, backed by a single database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: writes serialize and :memory: stays a single database
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Create(ctx context.Context, e model.Event) (model.Event, error) {
	e, err := prepareCreate(e, s.now())
	if err != nil {
		return model.Event{}, err
	}
	args, err := insertArgs(e)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := s.db.ExecContext(ctx, insertEventSQL, args...); err != nil {
		if isSQLiteUnique(err) {
			return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *SQLite) Update(ctx context.Context, owner, id string, patch model.EventPatch) (model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Event{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.get(ctx, tx, owner, id)
	if err != nil {
		return model.Event{}, err
	}
	next, err := applyPatch(cur, patch, s.now())
	if err != nil {
		return model.Event{}, err
	}
	args, err := updateArgs(next)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, updateEventSQL, args...); err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Event{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *SQLite) Get(ctx context.Context, owner, id string) (model.Event, error) {
	return s.get(ctx, s.db, owner, id)
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) get(ctx context.Context, q sqlQueryer, owner, id string) (model.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, getEventSQL, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *SQLite) ListInRange(ctx context.Context, owner string, start, end time.Time) ([]model.Event, error) {
	return s.list(ctx, listRangeSQL, owner, end.UnixNano(), start.UnixNano())
}

func (s *SQLite) ListOverrides(ctx context.Context, owner, parentID string) ([]model.Event, error) {
	return s.list(ctx, listOverridesSQL, owner, parentID)
}

func (s *SQLite) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SoftDelete(ctx context.Context, owner, id string) error {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, softDeleteSQL, now, now, owner, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) RecordConflicts(ctx context.Context, audits []model.ConflictAudit) (int, error) {
	if len(audits) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, a := range audits {
		if a.DetectedAt.IsZero() {
			a.DetectedAt = s.now()
		}
		res, err := tx.ExecContext(ctx, insertAuditSQL, auditArgs(a)...)
		if err != nil {
			return 0, fmt.Errorf("insert audit: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

func (s *SQLite) ListConflicts(ctx context.Context, owner, eventID string) ([]model.ConflictAudit, error) {
	rows, err := s.db.QueryContext(ctx, listAuditSQL, listAuditArgs(owner, eventID)...)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConflictAudit, 0)
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
