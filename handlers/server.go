package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"

	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/storage"
	"memberlock.app/cloud/token"
)

// Server owns the live lock instances and their persistence. Mutating
// handlers run the engine call and the snapshot write under one mutex so
// the journal offsets they persist stay consistent.
type Server struct {
	Storage storage.Storage
	Hub     *token.Hub
	Clock   lock.Clock

	mu    sync.Mutex
	locks map[string]*lock.Lock

	requests atomic.Int64
}

func NewServer(st storage.Storage, hub *token.Hub, clock lock.Clock) *Server {
	if clock == nil {
		clock = lock.SystemClock()
	}
	return &Server{
		Storage: st,
		Hub:     hub,
		Clock:   clock,
		locks:   make(map[string]*lock.Lock),
	}
}

// Routes wires the public API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.Health)
	r.Route("/api/v1/locks", func(r chi.Router) {
		r.Post("/", s.CreateLock)
		r.Route("/{lockID}", func(r chi.Router) {
			r.Get("/", s.GetLock)
			r.Get("/price", s.Price)
			r.Get("/events", s.Events)
			r.Get("/keys/{tokenID}", s.GetKey)

			r.Post("/purchase", s.Purchase)
			r.Post("/extend", s.Extend)
			r.Post("/grant", s.Grant)
			r.Post("/renew", s.Renew)
			r.Post("/cancel", s.Cancel)
			r.Post("/expire", s.Expire)
			r.Post("/transfer", s.Transfer)
			r.Post("/share", s.Share)
			r.Post("/lend", s.Lend)
			r.Post("/unlend", s.Unlend)
			r.Post("/merge", s.Merge)
			r.Post("/withdraw", s.Withdraw)
			r.Post("/approve", s.Approve)
			r.Post("/key-manager", s.SetKeyManager)

			r.Put("/config", s.UpdateConfig)
			r.Put("/referrer-fee", s.SetReferrerFee)
			r.Post("/roles", s.UpdateRoles)
		})
	})

	return r
}

// CountRequests is middleware feeding the /health counter.
func (s *Server) CountRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Inc()
		next.ServeHTTP(w, r)
	})
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Requests  int64     `json:"requests"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Requests:  s.requests.Load(),
		Timestamp: time.Now().UTC(),
	})
}

// getLock returns the live instance for id, loading and migrating its
// snapshot on first use. nil means unknown lock.
func (s *Server) getLock(ctx context.Context, id string) (*lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLockLocked(ctx, id)
}

func (s *Server) getLockLocked(ctx context.Context, id string) (*lock.Lock, error) {
	if l, ok := s.locks[id]; ok {
		return l, nil
	}
	snap, err := s.Storage.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	l, err := lock.Restore(snap, s.Hub.Get(snap.Config.SettlementToken), s.Clock)
	if err != nil {
		return nil, err
	}
	s.locks[id] = l
	return l, nil
}

// mutate runs op against the lock and persists the snapshot and the events
// the operation emitted. The engine call is all-or-nothing, so a failed op
// persists nothing.
func (s *Server) mutate(ctx context.Context, id string, op func(l *lock.Lock) error) (*lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.getLockLocked(ctx, id)
	if err != nil || l == nil {
		return nil, err
	}
	offset := l.JournalLen()
	if err := op(l); err != nil {
		// Single engine ops are all-or-nothing, but a compound admin op can
		// fail halfway; dropping the cached instance forces a reload from
		// the last persisted snapshot.
		delete(s.locks, id)
		return l, err
	}
	if err := s.Storage.SaveLock(ctx, l.Snapshot()); err != nil {
		delete(s.locks, id)
		return l, err
	}
	if err := s.Storage.AppendEvents(ctx, l.JournalSince(offset)); err != nil {
		return l, err
	}
	return l, nil
}

func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing useful left to do.
		return
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine reason codes onto HTTP statuses, always
// surfacing the code itself so callers can branch on cause.
func writeEngineError(w http.ResponseWriter, err error) {
	code := lock.CodeOf(err)
	if code == "" {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadRequest
	if kind, ok := lock.KindOf(err); ok {
		switch kind {
		case lock.KindAuthorization:
			status = http.StatusForbidden
		case lock.KindState:
			status = http.StatusConflict
		case lock.KindTerms:
			status = http.StatusConflict
		case lock.KindFunds:
			status = http.StatusPaymentRequired
		case lock.KindHook:
			status = http.StatusConflict
		}
	}
	if errors.Is(err, lock.ErrNoSuchKey) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

func lockNotFound(w http.ResponseWriter) {
	writeErrorResponse(w, http.StatusNotFound, "lock not found")
}
