package tenancy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/config"
	"github.com/ksred/schema-tenancy/internal/database/migrations"
	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/models"
	"github.com/ksred/schema-tenancy/internal/registry"
	"github.com/ksred/schema-tenancy/internal/signals"
)

// Stack is everything the commands and servers share
type Stack struct {
	App        *migrations.App
	Registry   *registry.Registry
	Dispatcher *signals.Dispatcher
	Runner     *migrate.Runner
	Service    *Service
	Metrics    *migrate.Metrics
}

// Setup wires the registry, signals, migration runner and tenant service on
// db. Variants of already persisted tenants are registered.
func Setup(ctx context.Context, db *gorm.DB, cfg config.Tenancy, logger zerolog.Logger) (*Stack, error) {
	api, err := registry.ParseAPI(cfg.RegistryAPI)
	if err != nil {
		return nil, err
	}

	app := migrations.NewApp()
	dispatcher := signals.NewDispatcher()
	reg := registry.New(api, dispatcher)
	if err := app.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register models: %w", err)
	}

	resolve := func(table string) (any, bool) {
		if table == app.Tenant.Table {
			return app.Tenant, true
		}
		return nil, false
	}
	if err := signals.RegisterCallbacks(db, dispatcher, resolve); err != nil {
		return nil, err
	}

	metrics := migrate.NewMetrics("schema_tenancy")
	runner, err := migrate.NewRunner(db, logger,
		migrate.WithDefaultSchema(cfg.DefaultSchema),
		migrate.WithMetrics(metrics),
		migrate.WithLockKey(cfg.LockKey),
	)
	if err != nil {
		return nil, err
	}
	runner.Register(app.GetMigrations()...)
	if err := runner.Prepare(ctx); err != nil {
		return nil, err
	}

	service := NewService(db, reg, runner, logger, WithSchemaPrefix(cfg.SchemaPrefix))
	if err := service.Sync(ctx); err != nil {
		return nil, err
	}

	connectLogging(dispatcher, app.Tenant, logger)

	return &Stack{
		App:        app,
		Registry:   reg,
		Dispatcher: dispatcher,
		Runner:     runner,
		Service:    service,
		Metrics:    metrics,
	}, nil
}

func connectLogging(d *signals.Dispatcher, tenant *registry.Model, logger zerolog.Logger) {
	d.Connect(signals.PostSave, tenant, "tenancy.log_save", func(_ context.Context, e signals.Event) error {
		if t, ok := e.Instance.(*models.Tenant); ok {
			logger.Debug().Str("name", t.Name).Bool("created", e.Created).Msg("Tenant saved")
		}
		return nil
	})
	d.Connect(signals.PostDelete, tenant, "tenancy.log_delete", func(_ context.Context, e signals.Event) error {
		if t, ok := e.Instance.(*models.Tenant); ok {
			logger.Debug().Str("name", t.Name).Msg("Tenant deleted")
		}
		return nil
	})
}
