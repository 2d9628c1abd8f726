// Package api serves the homework feed read by the dashboard and notifier
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
	"github.com/pbaille/hwsync/internal/reconcile"
)

const (
	defaultUpcomingDays  = 7
	closureLookbackDays  = 7
	closureLookaheadDays = 30
)

// Store is what the feed reads and the check-off endpoints write
type Store interface {
	ListHomeworkDue(ctx context.Context, ownerID string, from, to time.Time) ([]domain.HomeworkRecord, error)
	FindHomework(ctx context.Context, ownerID, idPrefix string) (*domain.HomeworkRecord, error)
	SetCheckedOff(ctx context.Context, id string, checked bool, at time.Time) error
	ListSchoolEvents(ctx context.Context, from, to time.Time, eventType string) ([]domain.SchoolEvent, error)
}

// Syncer runs one sync on demand
type Syncer interface {
	Run(ctx context.Context) (reconcile.Result, error)
}

// Options configures a Server
type Options struct {
	Addr     string
	OwnerID  string
	Location *time.Location
	Syncer   Syncer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server handles HTTP requests for the homework feed
type Server struct {
	store   Store
	syncer  Syncer
	addr    string
	ownerID string
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger

	// a sync assumes exclusive access to its scope
	syncMu sync.Mutex
}

// New creates a new feed server
func New(s Store, opts Options) *Server {
	srv := &Server{
		store:   s,
		syncer:  opts.Syncer,
		addr:    opts.Addr,
		ownerID: opts.OwnerID,
		loc:     opts.Location,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if srv.loc == nil {
		srv.loc = time.UTC
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	return srv
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Homework
	mux.HandleFunc("GET /homework", s.listHomework)
	mux.HandleFunc("GET /homework/today", s.todayHomework)
	mux.HandleFunc("POST /homework/{id}/check", s.checkHomework)
	mux.HandleFunc("DELETE /homework/{id}/check", s.uncheckHomework)

	// Calendar
	mux.HandleFunc("GET /closures", s.listClosures)

	// Sync
	mux.HandleFunc("POST /sync", s.runSync)

	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run starts the HTTP server and stops it when ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting feed server", "addr", s.addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for the dashboard
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HomeworkItem is a homework record as the feed presents it
type HomeworkItem struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Link         string     `json:"link,omitempty"`
	DateAssigned string     `json:"date_assigned"`
	DateDue      string     `json:"date_due"`
	Status       string     `json:"status"`
	CheckedOff   bool       `json:"checked_off"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
}

// ClosureItem is a no-school day
type ClosureItem struct {
	Date  string `json:"date"`
	Title string `json:"title"`
}

func (s *Server) today() time.Time {
	return calendar.Today(s.now(), s.loc)
}

func (s *Server) toItems(recs []domain.HomeworkRecord) []HomeworkItem {
	today := s.today()
	items := make([]HomeworkItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, HomeworkItem{
			ID:           r.ID,
			Subject:      r.Subject,
			Title:        r.Title,
			Description:  r.Description,
			Link:         r.Link,
			DateAssigned: calendar.Format(r.DateAssigned),
			DateDue:      calendar.Format(r.DateDue),
			Status:       string(reconcile.Status(r.DateDue, today)),
			CheckedOff:   r.CheckedOff,
			CheckedAt:    r.CheckedAt,
		})
	}
	return items
}

func (s *Server) listHomework(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	from, err := dateParam(r, "from", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := dateParam(r, "to", from.AddDate(0, 0, defaultUpcomingDays))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not be before 'from'")
		return
	}

	recs, err := s.store.ListHomeworkDue(r.Context(), s.ownerID, from, to)
	if err != nil {
		s.logger.Error("list homework failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"homework": s.toItems(recs),
		"from":     calendar.Format(from),
		"to":       calendar.Format(to),
	})
}

func (s *Server) todayHomework(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	recs, err := s.store.ListHomeworkDue(r.Context(), s.ownerID, today, today)
	if err != nil {
		s.logger.Error("list today's homework failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"homework": s.toItems(recs),
		"date":     calendar.Format(today),
	})
}

func (s *Server) checkHomework(w http.ResponseWriter, r *http.Request) {
	s.setChecked(w, r, true)
}

func (s *Server) uncheckHomework(w http.ResponseWriter, r *http.Request) {
	s.setChecked(w, r, false)
}

func (s *Server) setChecked(w http.ResponseWriter, r *http.Request, checked bool) {
	ctx := r.Context()

	rec, err := s.store.FindHomework(ctx, s.ownerID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "homework not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	at := s.now().UTC()
	if err := s.store.SetCheckedOff(ctx, rec.ID, checked, at); err != nil {
		s.logger.Error("check off failed", "id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec.CheckedOff = checked
	rec.CheckedAt = nil
	if checked {
		rec.CheckedAt = &at
	}
	writeJSON(w, http.StatusOK, s.toItems([]domain.HomeworkRecord{*rec})[0])
}

func (s *Server) listClosures(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	from, err := dateParam(r, "from", today.AddDate(0, 0, -closureLookbackDays))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := dateParam(r, "to", today.AddDate(0, 0, closureLookaheadDays))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.store.ListSchoolEvents(r.Context(), from, to, domain.EventTypeNoSchool)
	if err != nil {
		s.logger.Error("list closures failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	closures := make([]ClosureItem, 0, len(events))
	for _, ev := range events {
		closures = append(closures, ClosureItem{Date: calendar.Format(ev.EventDate), Title: ev.Title})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"closures": closures,
		"from":     calendar.Format(from),
		"to":       calendar.Format(to),
	})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	if !s.syncMu.TryLock() {
		writeError(w, http.StatusConflict, "a sync is already running")
		return
	}
	defer s.syncMu.Unlock()

	// a client hanging up must not cancel a sync halfway through its writes
	res, err := s.syncer.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSourceFetch) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func dateParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	d, err := calendar.Parse(v)
	if err != nil {
		return time.Time{}, errors.New("query parameter '" + name + "' must be YYYY-MM-DD")
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
