package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/tenancy"
	"github.com/ksred/schema-tenancy/internal/utils"
)

// Handler manages MCP tool handlers
type Handler struct {
	tenants *tenancy.Service
	runner  *migrate.Runner
	logger  zerolog.Logger
}

// NewHandler creates a new MCP handler
func NewHandler(tenants *tenancy.Service, runner *migrate.Runner, logger zerolog.Logger) *Handler {
	return &Handler{
		tenants: tenants,
		runner:  runner,
		logger:  logger,
	}
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return utils.WrapValidationError("", "invalid request format: "+err.Error())
	}
	return nil
}

// HandleCreateTenant creates a tenant, its schema and its tables
func (h *Handler) HandleCreateTenant(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req CreateTenantRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	tenant, err := h.tenants.Create(ctx, req.Name)
	if err != nil {
		h.logger.Warn().Err(err).Str("name", req.Name).Msg("create_tenant failed")
		return nil, err
	}

	return TenantResponse{Success: true, Tenant: tenant, Tables: h.tenants.Tables(tenant.SchemaName())}, nil
}

// HandleGetTenant returns a single tenant
func (h *Handler) HandleGetTenant(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req TenantNameRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, utils.RequiredFieldError("name")
	}

	tenant, err := h.tenants.Get(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return TenantResponse{Success: true, Tenant: tenant}, nil
}

// HandleDeleteTenant drops a tenant and everything in its schema
func (h *Handler) HandleDeleteTenant(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req TenantNameRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, utils.RequiredFieldError("name")
	}

	if err := h.tenants.Delete(ctx, req.Name); err != nil {
		return nil, err
	}
	return NewSuccessResponse("Tenant "+req.Name+" deleted", nil), nil
}

// HandleListTenants lists every tenant in creation order
func (h *Handler) HandleListTenants(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	tenants, err := h.tenants.List(ctx)
	if err != nil {
		return nil, err
	}
	return ListTenantsResponse{Tenants: tenants, Count: len(tenants)}, nil
}

// HandleMigrationStatus reports every registered migration
func (h *Handler) HandleMigrationStatus(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	statuses, err := h.runner.Status(ctx)
	if err != nil {
		return nil, utils.WrapDatabaseError("migration status", err)
	}

	pending := 0
	for _, st := range statuses {
		if !st.Applied {
			pending++
		}
	}
	return MigrationStatusResponse{Migrations: statuses, Pending: pending}, nil
}

// HandleRunMigrations applies every pending migration
func (h *Handler) HandleRunMigrations(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := h.runner.Run(ctx); err != nil {
		h.logger.Error().Err(err).Msg("run_migrations failed")
		return nil, utils.WrapDatabaseError("run migrations", err)
	}
	return h.HandleMigrationStatus(ctx, params)
}

// HandleRollback reverts the most recently applied migrations
func (h *Handler) HandleRollback(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req RollbackRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Steps == 0 {
		req.Steps = 1
	}
	if req.Steps < 0 {
		return nil, utils.InvalidFieldError("steps", "must be positive")
	}

	if err := h.runner.Rollback(ctx, req.Steps); err != nil {
		h.logger.Error().Err(err).Int("steps", req.Steps).Msg("rollback_migrations failed")
		return nil, utils.WrapDatabaseError("roll back migrations", err)
	}
	return h.HandleMigrationStatus(ctx, params)
}

// HandleSQLMigrate returns the statements a migration runs, for every tenant
func (h *Handler) HandleSQLMigrate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req SQLMigrateRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.Version == "" {
		return nil, utils.RequiredFieldError("version")
	}

	statements, err := h.runner.SQL(ctx, req.Version, req.Backwards)
	if errors.Is(err, migrate.ErrUnknownMigration) {
		return nil, utils.WrapNotFoundError("migration", req.Version)
	}
	if err != nil {
		return nil, utils.WrapDatabaseError("collect migration sql", err)
	}
	return SQLMigrateResponse{Version: req.Version, Backwards: req.Backwards, Statements: statements}, nil
}
