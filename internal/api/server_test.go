package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
	"github.com/pbaille/hwsync/internal/reconcile"
	"github.com/pbaille/hwsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	res    reconcile.Result
	err    error
	calls  int
	ctxErr error
}

func (f *fakeSyncer) Run(ctx context.Context) (reconcile.Result, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.res, f.err
}

// Wed Dec 10 2025, 9am in Chicago
var fixedNow = time.Date(2025, time.December, 10, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T, syncer Syncer) (*httptest.Server, *store.SQLite) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	srv := New(s, Options{
		OwnerID:  "student-1",
		Location: loc,
		Syncer:   syncer,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return fixedNow },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func hw(id, subject string, due time.Time) domain.HomeworkRecord {
	return domain.HomeworkRecord{
		ID:           id,
		OwnerID:      "student-1",
		Source:       domain.SourceCanvas,
		ExternalID:   "ext-" + id,
		Subject:      subject,
		Title:        subject + " homework",
		DateAssigned: due.AddDate(0, 0, -1),
		DateDue:      due,
		Status:       domain.StatusPending,
		SyncedAt:     fixedNow,
	}
}

func seed(t *testing.T, s *store.SQLite, recs ...domain.HomeworkRecord) {
	t.Helper()
	res, err := s.ReplaceHomework(context.Background(), domain.Scope{OwnerID: "student-1", Source: domain.SourceCanvas}, recs)
	require.NoError(t, err)
	require.Empty(t, res.Failed)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := setup(t, nil)
	resp := do(t, http.MethodGet, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestListHomework(t *testing.T) {
	ts, s := setup(t, nil)
	seed(t, s,
		hw("past-1", "Art", calendar.Date(2025, time.December, 9)),
		hw("today-1", "Math", calendar.Date(2025, time.December, 10)),
		hw("next-1", "Science", calendar.Date(2025, time.December, 12)),
		hw("far-1", "English", calendar.Date(2025, time.December, 30)),
	)

	resp := do(t, http.MethodGet, ts.URL+"/homework")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Homework []HomeworkItem `json:"homework"`
		From     string         `json:"from"`
		To       string         `json:"to"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "2025-12-10", body.From)
	assert.Equal(t, "2025-12-17", body.To)
	require.Len(t, body.Homework, 2)
	assert.Equal(t, "Math", body.Homework[0].Subject)
	assert.Equal(t, "2025-12-10", body.Homework[0].DateDue)
	assert.Equal(t, "pending", body.Homework[0].Status)

	resp = do(t, http.MethodGet, ts.URL+"/homework?from=2025-12-01&to=2025-12-09")
	decode(t, resp, &body)
	require.Len(t, body.Homework, 1)
	assert.Equal(t, "past", body.Homework[0].Status)
}

func TestListHomework_BadParams(t *testing.T) {
	ts, _ := setup(t, nil)

	resp := do(t, http.MethodGet, ts.URL+"/homework?from=12/10/2025")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, ts.URL+"/homework?from=2025-12-10&to=2025-12-01")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTodayHomework(t *testing.T) {
	ts, s := setup(t, nil)
	seed(t, s,
		hw("today-1", "Math", calendar.Date(2025, time.December, 10)),
		hw("next-1", "Science", calendar.Date(2025, time.December, 11)),
	)

	resp := do(t, http.MethodGet, ts.URL+"/homework/today")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Homework []HomeworkItem `json:"homework"`
		Date     string         `json:"date"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "2025-12-10", body.Date)
	require.Len(t, body.Homework, 1)
	assert.Equal(t, "today-1", body.Homework[0].ID)
}

func TestCheckAndUncheck(t *testing.T) {
	ts, s := setup(t, nil)
	seed(t, s, hw("abc123-math", "Math", calendar.Date(2025, time.December, 10)))

	resp := do(t, http.MethodPost, ts.URL+"/homework/abc123/check")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item HomeworkItem
	decode(t, resp, &item)
	assert.Equal(t, "abc123-math", item.ID)
	assert.True(t, item.CheckedOff)
	require.NotNil(t, item.CheckedAt)

	rec, err := s.FindHomework(context.Background(), "student-1", "abc123-math")
	require.NoError(t, err)
	assert.True(t, rec.CheckedOff)

	resp = do(t, http.MethodDelete, ts.URL+"/homework/abc123-math/check")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	item = HomeworkItem{}
	decode(t, resp, &item)
	assert.False(t, item.CheckedOff)
	assert.Nil(t, item.CheckedAt)

	resp = do(t, http.MethodPost, ts.URL+"/homework/nope/check")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListClosures(t *testing.T) {
	ts, s := setup(t, nil)
	ctx := context.Background()
	_, err := s.AddSchoolEvent(ctx, domain.SchoolEvent{EventDate: calendar.Date(2025, time.December, 22), EventType: domain.EventTypeNoSchool, Title: "Winter break"})
	require.NoError(t, err)
	_, err = s.AddSchoolEvent(ctx, domain.SchoolEvent{EventDate: calendar.Date(2025, time.December, 12), EventType: "picture_day", Title: "Picture day"})
	require.NoError(t, err)

	resp := do(t, http.MethodGet, ts.URL+"/closures")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Closures []ClosureItem `json:"closures"`
		From     string        `json:"from"`
		To       string        `json:"to"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "2025-12-03", body.From)
	assert.Equal(t, "2026-01-09", body.To)
	require.Len(t, body.Closures, 1)
	assert.Equal(t, ClosureItem{Date: "2025-12-22", Title: "Winter break"}, body.Closures[0])
}

func TestSync(t *testing.T) {
	syncer := &fakeSyncer{res: reconcile.Result{Announcements: 3, Inserted: 2}}
	ts, _ := setup(t, syncer)

	resp := do(t, http.MethodPost, ts.URL+"/sync")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res reconcile.Result
	decode(t, resp, &res)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, syncer.calls)

	syncer.err = errors.Join(domain.ErrSourceFetch, errors.New("HTTP 503"))
	resp = do(t, http.MethodPost, ts.URL+"/sync")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestSync_NotConfigured(t *testing.T) {
	ts, _ := setup(t, nil)
	resp := do(t, http.MethodPost, ts.URL+"/sync")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestSync_OutlivesClientCancel(t *testing.T) {
	syncer := &fakeSyncer{res: reconcile.Result{Inserted: 1}}
	srv := New(nil, Options{Syncer: syncer, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.calls)
	assert.NoError(t, syncer.ctxErr)
}
