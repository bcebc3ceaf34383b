package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventdesk/internal/model"
)

//go:embed schema_postgres.sql
var postgresSchema string

// pgUniqueViolation is the SQLSTATE of a unique constraint failure.
const pgUniqueViolation = "23505"

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres is the PostgreSQL store.
type Postgres struct {
	pool PgxPool
	now  func() time.Time
}

// OpenPostgres creates a pool, fails fast if the database is unreachable
// and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	p := NewPostgres(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool without touching the schema.
func NewPostgres(pool PgxPool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// EnsureSchema applies the embedded schema. Safe to run multiple times.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, e model.Event) (model.Event, error) {
	e, err := prepareCreate(e, p.now())
	if err != nil {
		return model.Event{}, err
	}
	args, err := insertArgs(e)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := p.pool.Exec(ctx, rebind(insertEventSQL), args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (p *Postgres) Update(ctx context.Context, owner, id string, patch model.EventPatch) (model.Event, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.Event{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := p.get(ctx, tx, owner, id, true)
	if err != nil {
		return model.Event{}, err
	}
	next, err := applyPatch(cur, patch, p.now())
	if err != nil {
		return model.Event{}, err
	}
	args, err := updateArgs(next)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := tx.Exec(ctx, rebind(updateEventSQL), args...); err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Event{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (p *Postgres) Get(ctx context.Context, owner, id string) (model.Event, error) {
	return p.get(ctx, p.pool, owner, id, false)
}

type pgxQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) get(ctx context.Context, q pgxQueryer, owner, id string, lock bool) (model.Event, error) {
	query := rebind(getEventSQL)
	if lock {
		query += " FOR UPDATE"
	}
	e, err := scanEvent(q.QueryRow(ctx, query, owner, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (p *Postgres) ListInRange(ctx context.Context, owner string, start, end time.Time) ([]model.Event, error) {
	return p.list(ctx, listRangeSQL, owner, end.UnixNano(), start.UnixNano())
}

func (p *Postgres) ListOverrides(ctx context.Context, owner, parentID string) ([]model.Event, error) {
	return p.list(ctx, listOverridesSQL, owner, parentID)
}

func (p *Postgres) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := p.pool.Query(ctx, rebind(query), args...)
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

func (p *Postgres) SoftDelete(ctx context.Context, owner, id string) error {
	now := p.now().UnixNano()
	tag, err := p.pool.Exec(ctx, rebind(softDeleteSQL), now, now, owner, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	return nil
}

func (p *Postgres) RecordConflicts(ctx context.Context, audits []model.ConflictAudit) (int, error) {
	if len(audits) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	added := 0
	query := rebind(insertAuditSQL)
	for _, a := range audits {
		if a.DetectedAt.IsZero() {
			a.DetectedAt = p.now()
		}
		tag, err := tx.Exec(ctx, query, auditArgs(a)...)
		if err != nil {
			return 0, fmt.Errorf("insert audit: %w", err)
		}
		if tag.RowsAffected() > 0 {
			added++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

func (p *Postgres) ListConflicts(ctx context.Context, owner, eventID string) ([]model.ConflictAudit, error) {
	rows, err := p.pool.Query(ctx, rebind(listAuditSQL), listAuditArgs(owner, eventID)...)
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

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
