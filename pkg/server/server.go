// package server
//
// http + websocket surface over a migrate.Runner for a presentation layer to drive and watch
// transfer sessions
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/baderkha/access-transfer/pkg/migrate"
	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
)

// Server : handlers share the runner, they hold no state of their own
type Server struct {
	Runner migrate.Runner
	Log    zerolog.Logger
}

func New(runner migrate.Runner, log zerolog.Logger) *Server {
	return &Server{Runner: runner, Log: log}
}

// Router : every route the server answers
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.Log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Dur("took", d).
			Msg("request")
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/objects", s.ListObjects)
		r.Post("/sessions", s.StartSession)
		r.Get("/sessions/{id}", s.GetSession)
		r.Post("/sessions/{id}/cancel", s.CancelSession)
		r.Post("/sessions/{id}/items/{name}/retry", s.RetryItem)
	})
	r.Get("/ws/sessions/{id}", s.StreamSession)
	return r
}

type startRequest struct {
	Selection []string `json:"selection"`
}

type startResponse struct {
	ID string `json:"id"`
}

func (s *Server) ListObjects(w http.ResponseWriter, r *http.Request) {
	objs, err := s.Runner.Objects(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body : "+err.Error())
		return
	}
	id, err := s.Runner.StartSession(r.Context(), req.Selection)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{ID: id})
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Runner.GetSnapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Runner.CancelSession(id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeSnapshot(w, r, id, http.StatusAccepted)
}

func (s *Server) RetryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Runner.RetryItem(id, chi.URLParam(r, "name")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeSnapshot(w, r, id, http.StatusAccepted)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, id string, status int) {
	snap, err := s.Runner.GetSnapshot(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, status, snap)
}

// writeErr maps engine errors onto status codes
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, migrate.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, migrate.ErrInvalidSelection):
		status = http.StatusBadRequest
	case errors.Is(err, migrate.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrSourceUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
