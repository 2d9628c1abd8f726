// Package reconcile runs one sync: fetch the timetable, resolve due dates,
// collapse duplicates and replace the stored homework of a scope while
// carrying completion state across.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/dedup"
	"github.com/pbaille/hwsync/internal/domain"
	"github.com/pbaille/hwsync/internal/extractor"
	"github.com/pbaille/hwsync/internal/fetcher"
	"github.com/pbaille/hwsync/internal/resolver"
	"github.com/pbaille/hwsync/internal/splitter"
)

const (
	DefaultRetentionDays = 7
	DefaultTitleMaxLen   = 100
	DefaultTimezone      = "America/Chicago"
)

// Repository is the slice of the homework store a sync needs
type Repository interface {
	ListHomework(ctx context.Context, scope domain.Scope) ([]domain.HomeworkRecord, error)
	// ReplaceHomework swaps every record of scope for recs in one
	// transaction. An error means nothing was changed.
	ReplaceHomework(ctx context.Context, scope domain.Scope, recs []domain.HomeworkRecord) (domain.ReplaceResult, error)
	PruneHomework(ctx context.Context, ownerID string, before time.Time) (int64, error)
}

// ClosureSource yields the closure dates around today
type ClosureSource interface {
	Closures(ctx context.Context, today time.Time) calendar.DateSet
}

// Result summarizes a sync run
type Result struct {
	Announcements int   `json:"announcements"`
	Resolved      int   `json:"resolved"`
	Collapsed     int   `json:"collapsed"`
	Deleted       int   `json:"deleted"`
	Inserted      int   `json:"inserted"`
	Preserved     int   `json:"preserved"`
	Failed        int   `json:"failed"`
	Pruned        int64 `json:"pruned"`
	Skipped       bool  `json:"skipped"`
}

// Engine wires the pipeline stages together. Source, Extractor, Resolver and
// Repo are required; the rest fall back to defaults.
type Engine struct {
	Source    fetcher.Source
	Extractor *extractor.Extractor
	Closures  ClosureSource
	Resolver  *resolver.Resolver
	Splitter  splitter.Splitter
	Repo      Repository
	Scope     domain.Scope

	RetentionDays int
	TitleMaxLen   int

	Now      func() time.Time
	Location *time.Location
	Logger   *slog.Logger
}

// Status is pending while the due date is today or later
func Status(due, today time.Time) domain.Status {
	if calendar.Truncate(due).Before(calendar.Truncate(today)) {
		return domain.StatusPast
	}
	return domain.StatusPending
}

// Run performs one sync. A fetch, listing or replace failure aborts with the
// stored scope unchanged; per-record insert failures are logged and counted.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result
	log := e.logger()
	now := e.now()
	today := calendar.Today(now, e.location())

	doc, err := e.Source.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSourceFetch) {
			err = fmt.Errorf("%w: %v", domain.ErrSourceFetch, err)
		}
		return res, err
	}

	announcements := e.Extractor.Extract(extractor.Blocks(doc))
	res.Announcements = len(announcements)
	if len(announcements) == 0 {
		log.Info("no announcements extracted, leaving store untouched", "owner", e.Scope.OwnerID, "source", e.Scope.Source)
		res.Skipped = true
		return res, nil
	}

	var closures calendar.DateSet
	if e.Closures != nil {
		closures = e.Closures.Closures(ctx, today)
	}

	resolved := e.resolveAll(ctx, announcements, closures)
	res.Resolved = len(resolved)
	items := dedup.Collapse(resolved)
	res.Collapsed = len(items)

	existing, err := e.Repo.ListHomework(ctx, e.Scope)
	if err != nil {
		return res, fmt.Errorf("%w: list homework: %w", domain.ErrStore, err)
	}
	carried := carryOver(existing, items)

	syncedAt := now.UTC()
	recs := make([]domain.HomeworkRecord, 0, len(items))
	reused := make(map[string]bool)
	for i, it := range items {
		rec := domain.HomeworkRecord{
			ID:           uuid.New().String(),
			OwnerID:      e.Scope.OwnerID,
			Source:       e.Scope.Source,
			ExternalID:   it.IdentityKey,
			Subject:      it.Subject,
			Title:        it.Title,
			Description:  it.Description,
			Link:         it.Link,
			DateAssigned: it.AssignedDate,
			DateDue:      it.DueDate,
			Status:       Status(it.DueDate, today),
			SyncedAt:     syncedAt,
		}
		if prev, ok := carried[i]; ok {
			// keep the row id so links handed out before the sync still resolve
			if !reused[prev.ID] {
				rec.ID = prev.ID
				reused[prev.ID] = true
			}
			rec.CheckedOff = prev.CheckedOff
			rec.CheckedAt = prev.CheckedAt
		}
		recs = append(recs, rec)
	}

	rep, err := e.Repo.ReplaceHomework(ctx, e.Scope, recs)
	if err != nil {
		return res, fmt.Errorf("%w: replace homework: %w", domain.ErrStore, err)
	}
	res.Deleted = rep.Deleted
	res.Inserted = rep.Inserted
	res.Failed = len(rep.Failed)

	failed := make(map[string]bool, len(rep.Failed))
	for _, f := range rep.Failed {
		failed[f.Record.ID] = true
		log.Error("insert homework failed", "subject", f.Record.Subject, "due", calendar.Format(f.Record.DateDue), "error", f.Err)
	}
	for _, rec := range recs {
		if rec.CheckedOff && !failed[rec.ID] {
			res.Preserved++
		}
	}

	before := today.AddDate(0, 0, -e.retentionDays())
	n, err := e.Repo.PruneHomework(ctx, e.Scope.OwnerID, before)
	if err != nil {
		log.Error("prune homework failed", "before", calendar.Format(before), "error", err)
	} else {
		res.Pruned = n
	}

	log.Info("sync complete",
		"owner", e.Scope.OwnerID,
		"announcements", res.Announcements,
		"inserted", res.Inserted,
		"deleted", res.Deleted,
		"preserved", res.Preserved,
		"failed", res.Failed,
		"pruned", res.Pruned,
	)
	return res, nil
}

func (e *Engine) resolveAll(ctx context.Context, announcements []domain.Announcement, closures calendar.DateSet) []domain.ResolvedAssignment {
	log := e.logger()
	split := e.Splitter
	if split == nil {
		split = splitter.PassThrough{}
	}

	var out []domain.ResolvedAssignment
	for _, a := range announcements {
		parts, err := split.Split(ctx, a)
		if err != nil || len(parts) == 0 {
			if err != nil {
				log.Warn("split failed, keeping announcement whole", "subject", a.Subject, "error", err)
			}
			parts, _ = splitter.PassThrough{}.Split(ctx, a)
		}

		for _, p := range parts {
			text := strings.TrimSpace(p.Text)
			if text == "" {
				continue
			}
			item := a
			item.Text = text
			due, rule := e.Resolver.Resolve(item, closures)
			title := truncate(text, e.titleMaxLen())

			out = append(out, domain.ResolvedAssignment{
				Subject:      a.Subject,
				Title:        title,
				Description:  text,
				AssignedDate: calendar.Truncate(a.AssignedDate),
				DueDate:      due,
				ItemType:     p.ItemType,
				Link:         a.Link,
				IdentityKey:  dedup.IdentityKey(a.Subject, due, title),
				Rule:         rule,
			})
			log.Debug("resolved", "subject", a.Subject, "assigned", calendar.Format(a.AssignedDate), "due", calendar.Format(due), "rule", rule)
		}
	}
	return out
}

// carryOver maps each item index to the stored record whose completion
// state it inherits. Records keyed by the current identity scheme match on
// their key only; records written under an older scheme match on
// (subject, due date), each at most once.
func carryOver(existing []domain.HomeworkRecord, items []domain.ResolvedAssignment) map[int]domain.HomeworkRecord {
	byKey := make(map[string]domain.HomeworkRecord)
	legacy := make(map[string][]domain.HomeworkRecord)
	for _, r := range existing {
		if r.ExternalID == dedup.IdentityKey(r.Subject, r.DateDue, r.Title) {
			if _, ok := byKey[r.ExternalID]; !ok {
				byKey[r.ExternalID] = r
			}
			continue
		}
		k := dedup.FallbackKey(r.Subject, r.DateDue)
		legacy[k] = append(legacy[k], r)
	}

	out := make(map[int]domain.HomeworkRecord)
	for i, it := range items {
		if r, ok := byKey[it.IdentityKey]; ok {
			out[i] = r
		}
	}
	for i, it := range items {
		if _, ok := out[i]; ok {
			continue
		}
		k := dedup.FallbackKey(it.Subject, it.DueDate)
		if cands := legacy[k]; len(cands) > 0 {
			out[i] = cands[0]
			legacy[k] = cands[1:]
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.UTC
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) retentionDays() int {
	if e.RetentionDays > 0 {
		return e.RetentionDays
	}
	return DefaultRetentionDays
}

func (e *Engine) titleMaxLen() int {
	if e.TitleMaxLen > 0 {
		return e.TitleMaxLen
	}
	return DefaultTitleMaxLen
}
