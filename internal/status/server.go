// Package status serves a read-only HTTP view of the intake audit trail.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/angariumd/intake/internal/auth"
	"github.com/angariumd/intake/internal/db"
	"github.com/angariumd/intake/internal/events"
)

const maxListLimit = 500

type Server struct {
	db     *db.DB
	auth   *auth.Authenticator
	logger *slog.Logger
}

func NewServer(db *db.DB, auth *auth.Authenticator, logger *slog.Logger) *Server {
	return &Server{
		db:     db,
		auth:   auth,
		logger: logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.Handle("GET /v1/events", s.auth.Middleware(http.HandlerFunc(s.handleEventList)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := events.Filter{
		Type:    q.Get("type"),
		JobName: q.Get("job_name"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	evts, err := events.List(s.db, f)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(evts)
}
