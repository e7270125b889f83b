// Package server exposes the memory engine over a local HTTP API.
// The server owns the single write-capable database handle; every
// other process (CLI, hooks, editors) goes through these routes.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/capsa-dev/capsa/internal/capsule"
	"github.com/capsa-dev/capsa/internal/rank"
	"github.com/capsa-dev/capsa/internal/retrieve"
	"github.com/capsa-dev/capsa/internal/store"
)

// Server is the capsa HTTP API server.
type Server struct {
	db        *store.DB
	capsules  *capsule.Manager
	retriever *retrieve.Orchestrator
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a new Server with the given database and version string.
func New(db *store.DB, version string) *Server {
	s := &Server{
		db:        db,
		capsules:  capsule.NewManager(db),
		retriever: retrieve.New(db, rank.NewStoreProvider(db)),
		version:   version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// UseEstimator swaps the token estimator used for budgeted retrieval.
func (s *Server) UseEstimator(e retrieve.Estimator) {
	s.retriever.Estimator = e
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/retrieve", s.handleRetrieve)

		r.Post("/observations", s.handleAppendObservation)
		r.Delete("/observations/{observationID}", s.handleForget)

		r.Post("/capsules", s.handleOpenCapsule)
		r.Get("/capsules/{capsuleID}", s.handleGetCapsule)
		r.Post("/capsules/{capsuleID}/close", s.handleCloseCapsule)

		r.Post("/pins", s.handlePin)
		r.Delete("/pins/{pinID}", s.handleUnpin)

		r.Post("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"dbPath":  s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
