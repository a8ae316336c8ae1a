// Command vidscribe-backend runs the development backend: the sqlite
// queue, the event stream and the worker ingest endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/api"
	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/core"
	"github.com/vrsandeep/vidscribe/internal/jobs"
	"github.com/vrsandeep/vidscribe/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		port       int
		dbPath     string
		logFormat  string
	)
	cmd := &cobra.Command{
		Use:           "vidscribe-backend",
		Short:         "Run the vidscribe development backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Backend.Port = port
			}
			if dbPath != "" {
				cfg.Backend.DatabasePath = dbPath
			}
			return serve(cmd.Context(), cfg, logFormat)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yml)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides backend.port)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides backend.database_path)")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logFormat string) error {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: logFormat})
	if err != nil {
		return err
	}

	app, err := core.New(cfg, logger, version)
	if err != nil {
		return err
	}
	defer app.Close()

	scheduler, err := jobs.StartJobs(app)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Backend.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", "addr", httpServer.Addr, "db", cfg.Backend.DatabasePath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not start server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Close the hub first so websocket clients see a normal closure.
	app.WsHub().Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}
