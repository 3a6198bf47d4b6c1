package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/api"
	"github.com/clinterm/mapper-mcp-server/internal/config"
	"github.com/clinterm/mapper-mcp-server/internal/database"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrations(configManager); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	cfg := configManager.GetConfig()
	log.Printf("Starting mapping REST gateway on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Create server
	server, err := api.NewServer(configManager)
	if err != nil {
		log.Fatalf("Failed to create REST gateway: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

// runMigrations applies pending rules store migrations and exits; invoked
// as "mapper-server migrate" ahead of a deploy, never from the serving
// path itself.
func runMigrations(configManager *config.Manager) error {
	cfg := configManager.GetConfig()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host,
		cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode,
	)

	runner, err := database.NewMigrationRunner(dsn, database.DefaultMigrationsPath, logger)
	if err != nil {
		return fmt.Errorf("create migration runner: %w", err)
	}
	defer runner.Close()

	return runner.Up(context.Background())
}
