// Package api serves the backend's HTTP and websocket endpoints with chi.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vrsandeep/vidscribe/internal/core"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	store *store.Store
	guard *pathguard.Guard
	exts  map[string]bool
	log   *slog.Logger
}

// NewServer creates a new Server instance. Paths in request bodies are
// checked with a guard built from the pathguard config.
func NewServer(app *core.App) *Server {
	cfg := app.Config()
	exts := make(map[string]bool, len(cfg.Watch.Extensions))
	for _, e := range cfg.Watch.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Server{
		app:   app,
		store: app.Store(),
		guard: pathguard.New(pathguard.Options{
			ExtraDeniedDirs: cfg.PathGuard.DeniedDirs,
			MaxLength:       cfg.PathGuard.MaxLength,
		}),
		exts: exts,
		log:  app.Logger().With("component", "api"),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// The event stream is long lived and stays outside the timeout.
	r.Get("/ws/events", s.app.WsHub().ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/health", s.handleHealth)
		r.Get("/api/version", s.handleGetVersion)

		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/files", s.handleAddFiles)
			r.Post("/directory", s.handleAddDirectory)
			r.Post("/clear", s.handleClearQueue)
			r.Delete("/{itemID}", s.handleDeleteItem)
			r.Post("/{itemID}/export", s.handleExportItem)
		})

		r.Route("/api/processing", func(r chi.Router) {
			r.Get("/status", s.handleProcessingStatus)
			r.Post("/start", s.handleStartProcessing)
			r.Post("/pause", s.handlePauseProcessing)
			r.Post("/stop", s.handleStopProcessing)
		})

		// Worker ingest: the transcription engine reports through these.
		r.Route("/api/worker", func(r chi.Router) {
			r.Post("/claim", s.handleWorkerClaim)
			r.Post("/items/{itemID}/progress", s.handleWorkerProgress)
			r.Post("/items/{itemID}/complete", s.handleWorkerComplete)
			r.Post("/items/{itemID}/fail", s.handleWorkerFail)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/jobs/status", s.handleGetAdminJobsStatus)
			r.Post("/jobs/run", s.handleRunAdminJob)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.app.WsHub().ClientCount(),
	})
}
