package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pbaille/hwsync/internal/domain"
)

// Store is the homework and school events persistence used by the CLI and
// the feed server. SQLite and Postgres implement it.
type Store interface {
	ListHomework(ctx context.Context, scope domain.Scope) ([]domain.HomeworkRecord, error)
	ListHomeworkDue(ctx context.Context, ownerID string, from, to time.Time) ([]domain.HomeworkRecord, error)
	FindHomework(ctx context.Context, ownerID, idPrefix string) (*domain.HomeworkRecord, error)
	ReplaceHomework(ctx context.Context, scope domain.Scope, recs []domain.HomeworkRecord) (domain.ReplaceResult, error)
	PruneHomework(ctx context.Context, ownerID string, before time.Time) (int64, error)
	SetCheckedOff(ctx context.Context, id string, checked bool, at time.Time) error

	ListSchoolEvents(ctx context.Context, from, to time.Time, eventType string) ([]domain.SchoolEvent, error)
	AddSchoolEvent(ctx context.Context, ev domain.SchoolEvent) (*domain.SchoolEvent, error)

	Close() error
}

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend. dsn is a file path for SQLite
// and a connection URL for Postgres.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return New(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
