package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/schema-tenancy/internal/config"
	"github.com/ksred/schema-tenancy/internal/database"
	"github.com/ksred/schema-tenancy/internal/mcp"
	"github.com/ksred/schema-tenancy/internal/tenancy"
	"github.com/ksred/schema-tenancy/internal/utils"
)

const version = "v0.1.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfiguration(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info().Str("version", version).Msg("Starting schema tenancy MCP server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := connectToDatabase(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	stack, err := tenancy.Setup(ctx, db.DB(), cfg.Tenancy, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up tenancy")
	}
	if err := stack.Runner.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	mcpServer, err := mcp.NewServer(stack, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MCP server")
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info().Msg("Starting MCP server on stdio")
		if err := mcpServer.Serve(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErrChan:
		logger.Error().Err(err).Msg("MCP server error")
	}

	logger.Info().Msg("Starting graceful shutdown")
	cancel()

	// let in-flight tool calls observe the cancellation
	time.Sleep(500 * time.Millisecond)

	logger.Info().Msg("Shutdown complete")
}

func loadConfiguration(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.NewDefault()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setupLogging writes to a file since stdout carries JSON-RPC
func setupLogging(cfg *config.Config) zerolog.Logger {
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		logFile = filepath.Join(homeDir, ".config", "schema-tenancy", "logs", "schema-tenancy.log")
	}

	logConfig := utils.LoggerConfig{
		Level:      cfg.Server.LogLevel,
		Pretty:     cfg.Server.Debug,
		CallerInfo: cfg.Server.Debug,
		LogFile:    logFile,
	}

	utils.SetupGlobalLogger(logConfig)
	return utils.NewLogger(logConfig)
}

func connectToDatabase(cfg *config.Config, logger zerolog.Logger) (*database.Database, error) {
	logger.Info().Str("driver", cfg.Database.Driver).Msg("Connecting to database")

	db := database.NewDatabase(cfg.DatabaseSettings())
	db.SetLogger(logger)

	if err := db.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	logger.Info().
		Str("driver", db.Driver()).
		Str("database", cfg.Database.DBName).
		Msg("Successfully connected to database")

	return db, nil
}
