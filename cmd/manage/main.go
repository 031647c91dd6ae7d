package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ksred/schema-tenancy/internal/config"
	"github.com/ksred/schema-tenancy/internal/database"
	"github.com/ksred/schema-tenancy/internal/tenancy"
	"github.com/ksred/schema-tenancy/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout, open: openStack}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStack connects with the configuration at configPath and wires the
// tenancy stack on it
func openStack(ctx context.Context, configPath string) (*tenancy.Stack, func(), error) {
	cfg := config.LoadConfigOrDefault(configPath)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := utils.NewLogger(utils.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Pretty: true,
	})

	db := database.NewDatabase(cfg.DatabaseSettings())
	db.SetLogger(logger)
	if err := db.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	stack, err := tenancy.Setup(ctx, db.DB(), cfg.Tenancy, logger.With().Str("command", "manage").Logger())
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return stack, closeDB, nil
}
