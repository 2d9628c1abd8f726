package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

//go:embed schema_postgres.sql
var postgresSchema string

const pgHomeworkSelect = `SELECT id::text, owner_id, source, external_id, subject, title, description, link,
	date_assigned, date_due, status, checked_off, checked_at, synced_at FROM homework_items`

// PgxIface is the subset of *pgxpool.Pool the store needs
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres stores homework in PostgreSQL
type Postgres struct {
	pool PgxIface
}

// NewPostgres connects a pool and applies the schema
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool without touching the schema
func NewPostgresWithPool(pool PgxIface) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ListHomework returns every record of a sync scope
func (p *Postgres) ListHomework(ctx context.Context, scope domain.Scope) ([]domain.HomeworkRecord, error) {
	rows, err := p.pool.Query(ctx,
		pgHomeworkSelect+" WHERE owner_id = $1 AND source = $2 ORDER BY date_due, subject, title",
		scope.OwnerID, scope.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("list homework: %w", err)
	}
	return collectHomework(rows)
}

// ListHomeworkDue returns an owner's records due within [from, to]
func (p *Postgres) ListHomeworkDue(ctx context.Context, ownerID string, from, to time.Time) ([]domain.HomeworkRecord, error) {
	rows, err := p.pool.Query(ctx,
		pgHomeworkSelect+" WHERE owner_id = $1 AND date_due >= $2 AND date_due <= $3 ORDER BY date_due, subject, title",
		ownerID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list homework due: %w", err)
	}
	return collectHomework(rows)
}

// FindHomework looks a record up by id or unique id prefix
func (p *Postgres) FindHomework(ctx context.Context, ownerID, idPrefix string) (*domain.HomeworkRecord, error) {
	rows, err := p.pool.Query(ctx,
		pgHomeworkSelect+" WHERE owner_id = $1 AND id::text LIKE $2 ORDER BY id LIMIT 2",
		ownerID, idPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("find homework: %w", err)
	}
	recs, err := collectHomework(rows)
	if err != nil {
		return nil, err
	}
	return pickOne(recs, idPrefix)
}

func pgInsertHomework(ctx context.Context, db pgExecer, rec domain.HomeworkRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := db.Exec(ctx,
		"INSERT INTO homework_items ("+homeworkColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		rec.ID, rec.OwnerID, rec.Source, rec.ExternalID, rec.Subject, rec.Title, rec.Description, rec.Link,
		rec.DateAssigned, rec.DateDue, string(rec.Status), rec.CheckedOff, rec.CheckedAt, rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("insert homework: %w", err)
	}
	return nil
}

// ReplaceHomework deletes every record of scope and inserts recs in one
// transaction. Each insert runs under a savepoint so a failed row is
// reported and skipped without aborting the rest.
func (p *Postgres) ReplaceHomework(ctx context.Context, scope domain.Scope, recs []domain.HomeworkRecord) (domain.ReplaceResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("begin replace: %w", err)
	}

	res, err := pgReplace(ctx, tx, scope, recs)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return domain.ReplaceResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("commit replace: %w", err)
	}
	return res, nil
}

func pgReplace(ctx context.Context, tx pgx.Tx, scope domain.Scope, recs []domain.HomeworkRecord) (domain.ReplaceResult, error) {
	var res domain.ReplaceResult

	tag, err := tx.Exec(ctx, "DELETE FROM homework_items WHERE owner_id = $1 AND source = $2", scope.OwnerID, scope.Source)
	if err != nil {
		return res, fmt.Errorf("replace homework: %w", err)
	}
	res.Deleted = int(tag.RowsAffected())

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("replace homework: %w", err)
		}
		if _, err := tx.Exec(ctx, "SAVEPOINT replace_item"); err != nil {
			return res, fmt.Errorf("replace homework: %w", err)
		}
		if err := pgInsertHomework(ctx, tx, rec); err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT replace_item"); rbErr != nil {
				return res, fmt.Errorf("replace homework: %w", rbErr)
			}
			res.Failed = append(res.Failed, domain.WriteFailure{Record: rec, Err: err})
			continue
		}
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT replace_item"); err != nil {
			return res, fmt.Errorf("replace homework: %w", err)
		}
		res.Inserted++
	}
	return res, nil
}

// PruneHomework deletes an owner's records due before the given date
func (p *Postgres) PruneHomework(ctx context.Context, ownerID string, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM homework_items WHERE owner_id = $1 AND date_due < $2",
		ownerID, before,
	)
	if err != nil {
		return 0, fmt.Errorf("prune homework: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetCheckedOff records or clears completion of a record
func (p *Postgres) SetCheckedOff(ctx context.Context, id string, checked bool, at time.Time) error {
	var checkedAt *time.Time
	if checked {
		checkedAt = &at
	}
	tag, err := p.pool.Exec(ctx,
		"UPDATE homework_items SET checked_off = $1, checked_at = $2 WHERE id = $3",
		checked, checkedAt, id,
	)
	if err != nil {
		return fmt.Errorf("check off homework: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("check off homework %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListSchoolEvents returns events of a type within [from, to]
func (p *Postgres) ListSchoolEvents(ctx context.Context, from, to time.Time, eventType string) ([]domain.SchoolEvent, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT id::text, event_date, event_type, title, description FROM school_events WHERE event_type = $1 AND event_date >= $2 AND event_date <= $3 ORDER BY event_date",
		eventType, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list school events: %w", err)
	}
	defer rows.Close()

	var events []domain.SchoolEvent
	for rows.Next() {
		var ev domain.SchoolEvent
		if err := rows.Scan(&ev.ID, &ev.EventDate, &ev.EventType, &ev.Title, &ev.Description); err != nil {
			return nil, fmt.Errorf("scan school event: %w", err)
		}
		ev.EventDate = calendar.Truncate(ev.EventDate)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list school events: %w", err)
	}
	return events, nil
}

// AddSchoolEvent creates a new event and returns it
func (p *Postgres) AddSchoolEvent(ctx context.Context, ev domain.SchoolEvent) (*domain.SchoolEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.EventDate = calendar.Truncate(ev.EventDate)

	_, err := p.pool.Exec(ctx,
		"INSERT INTO school_events (id, event_date, event_type, title, description) VALUES ($1, $2, $3, $4, $5)",
		ev.ID, ev.EventDate, ev.EventType, ev.Title, ev.Description,
	)
	if err != nil {
		return nil, fmt.Errorf("insert school event: %w", err)
	}
	return &ev, nil
}

func collectHomework(rows pgx.Rows) ([]domain.HomeworkRecord, error) {
	defer rows.Close()

	var recs []domain.HomeworkRecord
	for rows.Next() {
		var (
			r      domain.HomeworkRecord
			status string
		)
		if err := rows.Scan(
			&r.ID, &r.OwnerID, &r.Source, &r.ExternalID, &r.Subject, &r.Title, &r.Description, &r.Link,
			&r.DateAssigned, &r.DateDue, &status, &r.CheckedOff, &r.CheckedAt, &r.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("scan homework: %w", err)
		}
		r.Status = domain.Status(status)
		r.DateAssigned = calendar.Truncate(r.DateAssigned)
		r.DateDue = calendar.Truncate(r.DateDue)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan homework: %w", err)
	}
	return recs, nil
}
