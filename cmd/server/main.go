package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/roomcast/internal/app"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/logging"
)

// shutdownTimeout bounds the container shutdown after the server stops.
const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.New()
	logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	if _, err := a.Server(); err != nil {
		slog.Error("Failed to start", "error", err)
		_ = a.Shutdown(context.Background())
		os.Exit(1)
	}

	runErr := a.Run(ctx)
	if runErr != nil {
		slog.Error("Server stopped with error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil || runErr != nil {
		os.Exit(1)
	}
}
