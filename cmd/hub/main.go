// Command hub runs the trading message hub: a WebSocket server that
// authenticates instances, routes envelopes per their role, and exposes a
// REST status/command surface alongside it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradehub/internal/app"
	"tradehub/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("hub exited with error", "error", err)
		os.Exit(1)
	}
}

// run loads configuration, starts the application, and blocks until a
// shutdown signal or a fatal startup error, performing a bounded graceful
// shutdown either way.
func run() error {
	configPath := os.Getenv("HUB_CONFIG_FILE")
	cfg := config.LoadConfigWithPrecedence(configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		slog.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
