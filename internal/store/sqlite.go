package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

//go:embed schema.sql
var schema string

const homeworkColumns = `id, owner_id, source, external_id, subject, title, description, link,
	date_assigned, date_due, status, checked_off, checked_at, synced_at`

// SQLite handles database operations on a local SQLite file
type SQLite struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path
func New(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListHomework returns every record of a sync scope
func (s *SQLite) ListHomework(ctx context.Context, scope domain.Scope) ([]domain.HomeworkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+homeworkColumns+" FROM homework_items WHERE owner_id = ? AND source = ? ORDER BY date_due, subject, title",
		scope.OwnerID, scope.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("list homework: %w", err)
	}
	return scanHomework(rows)
}

// ListHomeworkDue returns an owner's records due within [from, to]
func (s *SQLite) ListHomeworkDue(ctx context.Context, ownerID string, from, to time.Time) ([]domain.HomeworkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+homeworkColumns+" FROM homework_items WHERE owner_id = ? AND date_due >= ? AND date_due <= ? ORDER BY date_due, subject, title",
		ownerID, calendar.Format(from), calendar.Format(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list homework due: %w", err)
	}
	return scanHomework(rows)
}

// FindHomework looks a record up by id or unique id prefix
func (s *SQLite) FindHomework(ctx context.Context, ownerID, idPrefix string) (*domain.HomeworkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+homeworkColumns+" FROM homework_items WHERE owner_id = ? AND id LIKE ? ORDER BY id LIMIT 2",
		ownerID, idPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("find homework: %w", err)
	}
	recs, err := scanHomework(rows)
	if err != nil {
		return nil, err
	}
	return pickOne(recs, idPrefix)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertHomework(ctx context.Context, db execer, rec domain.HomeworkRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	var checkedAt *string
	if rec.CheckedAt != nil {
		v := rec.CheckedAt.UTC().Format(time.RFC3339)
		checkedAt = &v
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO homework_items ("+homeworkColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.OwnerID, rec.Source, rec.ExternalID, rec.Subject, rec.Title, rec.Description, rec.Link,
		calendar.Format(rec.DateAssigned), calendar.Format(rec.DateDue), string(rec.Status),
		rec.CheckedOff, checkedAt, rec.SyncedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert homework: %w", err)
	}
	return nil
}

// ReplaceHomework deletes every record of scope and inserts recs in one
// transaction. A failed insert is reported and skipped; anything else,
// including a cancelled ctx, rolls the whole replacement back.
func (s *SQLite) ReplaceHomework(ctx context.Context, scope domain.Scope, recs []domain.HomeworkRecord) (domain.ReplaceResult, error) {
	var res domain.ReplaceResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, "DELETE FROM homework_items WHERE owner_id = ? AND source = ?", scope.OwnerID, scope.Source)
	if err != nil {
		return res, fmt.Errorf("replace homework: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return res, fmt.Errorf("replace homework: %w", err)
	}
	res.Deleted = int(n)

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return domain.ReplaceResult{}, fmt.Errorf("replace homework: %w", err)
		}
		if err := insertHomework(ctx, tx, rec); err != nil {
			res.Failed = append(res.Failed, domain.WriteFailure{Record: rec, Err: err})
			continue
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("commit replace: %w", err)
	}
	return res, nil
}

// PruneHomework deletes an owner's records due before the given date
func (s *SQLite) PruneHomework(ctx context.Context, ownerID string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM homework_items WHERE owner_id = ? AND date_due < ?",
		ownerID, calendar.Format(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune homework: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune homework: %w", err)
	}
	return n, nil
}

// SetCheckedOff records or clears completion of a record
func (s *SQLite) SetCheckedOff(ctx context.Context, id string, checked bool, at time.Time) error {
	var checkedAt *string
	if checked {
		v := at.UTC().Format(time.RFC3339)
		checkedAt = &v
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE homework_items SET checked_off = ?, checked_at = ? WHERE id = ?",
		checked, checkedAt, id,
	)
	if err != nil {
		return fmt.Errorf("check off homework: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("check off homework %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListSchoolEvents returns events of a type within [from, to]
func (s *SQLite) ListSchoolEvents(ctx context.Context, from, to time.Time, eventType string) ([]domain.SchoolEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, event_date, event_type, title, description FROM school_events WHERE event_type = ? AND event_date >= ? AND event_date <= ? ORDER BY event_date",
		eventType, calendar.Format(from), calendar.Format(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list school events: %w", err)
	}
	defer rows.Close()

	var events []domain.SchoolEvent
	for rows.Next() {
		var (
			ev   domain.SchoolEvent
			date string
		)
		if err := rows.Scan(&ev.ID, &date, &ev.EventType, &ev.Title, &ev.Description); err != nil {
			return nil, fmt.Errorf("scan school event: %w", err)
		}
		if ev.EventDate, err = calendar.Parse(date); err != nil {
			return nil, fmt.Errorf("scan school event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list school events: %w", err)
	}

	return events, nil
}

// AddSchoolEvent creates a new event and returns it
func (s *SQLite) AddSchoolEvent(ctx context.Context, ev domain.SchoolEvent) (*domain.SchoolEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.EventDate = calendar.Truncate(ev.EventDate)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO school_events (id, event_date, event_type, title, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.ID, calendar.Format(ev.EventDate), ev.EventType, ev.Title, ev.Description, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert school event: %w", err)
	}
	return &ev, nil
}

func scanHomework(rows *sql.Rows) ([]domain.HomeworkRecord, error) {
	defer rows.Close()

	var recs []domain.HomeworkRecord
	for rows.Next() {
		var (
			r                       domain.HomeworkRecord
			status                  string
			assigned, due, syncedAt string
			checkedAt               sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.OwnerID, &r.Source, &r.ExternalID, &r.Subject, &r.Title, &r.Description, &r.Link,
			&assigned, &due, &status, &r.CheckedOff, &checkedAt, &syncedAt,
		); err != nil {
			return nil, fmt.Errorf("scan homework: %w", err)
		}
		r.Status = domain.Status(status)

		var err error
		if r.DateAssigned, err = calendar.Parse(assigned); err != nil {
			return nil, fmt.Errorf("scan homework: %w", err)
		}
		if r.DateDue, err = calendar.Parse(due); err != nil {
			return nil, fmt.Errorf("scan homework: %w", err)
		}
		if r.SyncedAt, err = time.Parse(time.RFC3339, syncedAt); err != nil {
			return nil, fmt.Errorf("scan homework synced_at: %w", err)
		}
		if checkedAt.Valid {
			t, err := time.Parse(time.RFC3339, checkedAt.String)
			if err != nil {
				return nil, fmt.Errorf("scan homework checked_at: %w", err)
			}
			r.CheckedAt = &t
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan homework: %w", err)
	}

	return recs, nil
}

func pickOne(recs []domain.HomeworkRecord, idPrefix string) (*domain.HomeworkRecord, error) {
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("homework %s: %w", idPrefix, domain.ErrNotFound)
	case 1:
		return &recs[0], nil
	default:
		return nil, fmt.Errorf("homework id prefix %q is ambiguous", idPrefix)
	}
}
