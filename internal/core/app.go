// Package core holds the backend's shared components.
package core

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vrsandeep/vidscribe/internal/assets"
	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/db"
	"github.com/vrsandeep/vidscribe/internal/jobs"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/store"
	"github.com/vrsandeep/vidscribe/internal/websocket"
)

// App holds the components shared by the API server and the scheduled
// jobs. It implements jobs.JobContext.
type App struct {
	Version string

	config     *config.Config
	db         *sql.DB
	store      *store.Store
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	log        *slog.Logger
}

// New opens the database at cfg.Backend.DatabasePath, applies migrations
// and starts the websocket hub.
func New(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	database, err := db.InitDB(cfg.Backend.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, assets.MigrationsFS, logger); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	app, err := NewWithDB(cfg, database, logger, version)
	if err != nil {
		database.Close()
		return nil, err
	}
	return app, nil
}

// NewWithDB builds an App on an already migrated database. Items left
// processing by a previous run go back to the queue.
func NewWithDB(cfg *config.Config, database *sql.DB, logger *slog.Logger, version string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := store.New(database)

	n, err := st.RequeueProcessing()
	if err != nil {
		return nil, fmt.Errorf("requeue interrupted items: %w", err)
	}
	if n > 0 {
		logger.Warn("requeued items interrupted by shutdown", "count", n)
	}
	if _, err := st.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.CurrentItemID = ""
		return nil
	}); err != nil {
		return nil, err
	}

	hub := websocket.NewHub(logger)
	go hub.Run()

	app := &App{
		Version: version,
		config:  cfg,
		db:      database,
		store:   st,
		wsHub:   hub,
		log:     logger,
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterJobs(app.jobManager)

	logger.Info("core application setup complete", "version", version)
	return app, nil
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) Store() *store.Store          { return a.store }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Logger() *slog.Logger         { return a.log }

// Close stops the hub and closes the database.
func (a *App) Close() {
	if a.wsHub != nil {
		a.wsHub.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
