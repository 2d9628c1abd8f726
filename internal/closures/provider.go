package closures

import (
	"context"
	"log/slog"
	"time"

	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

// Default window around today, in days
const (
	DefaultLookbackDays  = 7
	DefaultLookaheadDays = 30
)

// EventSource reads the school events collection
type EventSource interface {
	ListSchoolEvents(ctx context.Context, from, to time.Time, eventType string) ([]domain.SchoolEvent, error)
}

// Provider returns the closure dates around a given day
type Provider struct {
	source    EventSource
	lookback  int
	lookahead int
	logger    *slog.Logger
}

// New creates a Provider. Non-positive window sizes select the defaults.
func New(source EventSource, lookback, lookahead int, logger *slog.Logger) *Provider {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	if lookahead <= 0 {
		lookahead = DefaultLookaheadDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{source: source, lookback: lookback, lookahead: lookahead, logger: logger}
}

// Closures returns no-school dates in [today-lookback, today+lookahead].
// An unreachable source yields an empty set so callers fall back to
// weekend-only skipping.
func (p *Provider) Closures(ctx context.Context, today time.Time) calendar.DateSet {
	set := calendar.NewDateSet()
	if p.source == nil {
		return set
	}
	today = calendar.Truncate(today)
	from := today.AddDate(0, 0, -p.lookback)
	to := today.AddDate(0, 0, p.lookahead)

	events, err := p.source.ListSchoolEvents(ctx, from, to, domain.EventTypeNoSchool)
	if err != nil {
		p.logger.Warn("closure calendar unavailable, skipping weekends only", "error", err)
		return set
	}
	for _, ev := range events {
		if ev.EventType != domain.EventTypeNoSchool {
			continue
		}
		d := calendar.Truncate(ev.EventDate)
		if d.Before(from) || d.After(to) {
			continue
		}
		set.Add(d)
	}
	p.logger.Debug("loaded closures", "count", len(set), "from", calendar.Format(from), "to", calendar.Format(to))
	return set
}
