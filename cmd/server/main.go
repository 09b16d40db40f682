// Command server runs the ghostwriter HTTP API: PR audit intake (webhook,
// manual and URL submission), audit reads, and the OAuth/password session
// endpoints used by the dashboard.
//
// Configuration comes from the environment (and .env); see internal/config.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/ghostwriter/internal/config"
	"github.com/sakif/ghostwriter/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
