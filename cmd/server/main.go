package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/logging"
	"github.com/nfrund/parley/internal/server"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.New(cfg.GetLogFormat(), cfg.GetLogLevel())

	// Create a new server instance.
	s := server.New(cfg)

	// Register all application routes.
	if err := s.RegisterRoutes(); err != nil {
		slog.Error("Failed to register routes", "error", err)
		os.Exit(1)
	}

	// Start the server.
	if err := s.Start(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
