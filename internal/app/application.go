// Package app wires the hub's components together in dependency order and
// owns the process-level start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tradehub/internal/api"
	"tradehub/internal/command"
	"tradehub/internal/config"
	"tradehub/internal/database"
	"tradehub/internal/lifecycle"
	"tradehub/internal/router"
	"tradehub/internal/telemetry"
	"tradehub/internal/websocket"
	pkgdatabase "tradehub/pkg/database"
)

// Application owns every long-lived component the hub needs, plus the
// background goroutines (stale sweep, command expiration) that run for
// its lifetime.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *websocket.Registry
	correlator *command.Correlator
	telemetry  *telemetry.Sink
	router     *router.Router
	driver     *lifecycle.Driver
	apiServer  *api.Server
	httpServer *http.Server

	sweepCancel  context.CancelFunc
	expireTicker *time.Ticker
	expireDone   chan struct{}
}

// NewApplication constructs every component in dependency order: database
// → telemetry sink → registry → correlator → router → lifecycle driver →
// API server → HTTP server.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  "migrations",
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	slog.Info("database migrations applied")

	sink := telemetry.NewSink(dbManager, cfg.Hub.PersistCadence)
	registry := websocket.NewRegistry()
	correlator := command.NewCorrelator(cfg.Hub.HistoryCap)
	messageRouter := router.New(registry, correlator, sink, cfg.Hub.SharedSecret)
	driver := lifecycle.New(registry, messageRouter, sink, cfg.Hub.AuthGrace, cfg.Hub.StaleThreshold, cfg.Hub.SweepInterval)
	apiServer := api.NewServer(registry, sink, messageRouter, dbManager)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		instanceID := strings.TrimPrefix(r.URL.Path, "/ws/")
		driver.HandleUpgrade(w, r, instanceID)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		correlator: correlator,
		telemetry:  sink,
		router:     messageRouter,
		driver:     driver,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins the stale-sweep and command-expiration background loops,
// then starts the HTTP server. It returns the server's error if it fails
// within 100ms, otherwise nil; it does not confirm the listener is up.
func (app *Application) Start(ctx context.Context) error {
	slog.Info("starting hub", "addr", app.httpServer.Addr)

	sweepCtx, cancel := context.WithCancel(ctx)
	app.sweepCancel = cancel
	go app.driver.RunStaleSweep(sweepCtx)

	app.expireTicker = time.NewTicker(app.config.Hub.CommandTimeout)
	app.expireDone = make(chan struct{})
	go app.runExpirationLoop()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopBackgroundLoops()
		return err
	case <-time.After(100 * time.Millisecond):
		slog.Info("hub started")
		return nil
	case <-ctx.Done():
		app.stopBackgroundLoops()
		return ctx.Err()
	}
}

// runExpirationLoop drops commands nobody acknowledged within the
// configured timeout, per spec §4.2.
func (app *Application) runExpirationLoop() {
	for {
		select {
		case <-app.expireTicker.C:
			app.correlator.ExpireStale(app.config.Hub.CommandTimeout)
			app.router.CleanupRateLimiter()
		case <-app.expireDone:
			return
		}
	}
}

func (app *Application) stopBackgroundLoops() {
	if app.sweepCancel != nil {
		app.sweepCancel()
	}
	if app.expireTicker != nil {
		app.expireTicker.Stop()
	}
	if app.expireDone != nil {
		close(app.expireDone)
	}
}

// Stop gracefully shuts down the application in reverse dependency order:
// HTTP → background loops → database.
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down hub")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	app.stopBackgroundLoops()

	if err := app.dbManager.Close(); err != nil {
		slog.Error("database shutdown error", "error", err)
	}

	slog.Info("hub shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
