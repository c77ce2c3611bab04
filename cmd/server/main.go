package main

// Package main is the entry point for the skylens-ai server.
//
// Responsibilities:
//   - Load configuration from YAML, environment variables, and .env
//   - Wire the session store, tool registry, completion client, and
//     tool-call orchestration engine
//   - Serve the REST API (session upload, /chat-tools, /tool-reply)
//   - Serve the WebSocket endpoint for real-time tool-event streaming
//   - Expose Prometheus metrics and a health endpoint
//   - Shut down gracefully on SIGINT/SIGTERM, finalizing audit logs

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/config"
	"github.com/skylens/skylens-ai/internal/server"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("SKYLENS_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	manager := config.NewManager(configPath)
	if err := manager.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := manager.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	// Hot-reload tunables on config file changes.
	manager.Watch(func(updated *config.Config) {
		logger.Info("configuration reloaded",
			zap.Int("maxIterations", updated.Orchestrator.MaxIterations))
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
