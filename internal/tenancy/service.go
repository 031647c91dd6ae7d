package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/database"
	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/models"
	"github.com/ksred/schema-tenancy/internal/registry"
	"github.com/ksred/schema-tenancy/internal/signals"
	"github.com/ksred/schema-tenancy/internal/utils"
)

// ArgCountError is returned when more values are given than a tenant has
// fields
type ArgCountError struct {
	Got    []string
	Fields []string
}

func (e *ArgCountError) Error() string {
	return fmt.Sprintf("Number of args exceeds the number of fields for model tenancy.Tenant.\nGot %v when defined fields are %v.",
		e.Got, e.Fields)
}

func (e *ArgCountError) Is(target error) bool {
	return target == utils.ErrValidation
}

// Service manages tenants: their rows, their schemas and the tenant
// variants of every tenant scoped model
type Service struct {
	db           *gorm.DB
	registry     *registry.Registry
	runner       *migrate.Runner
	namespacer   database.Namespacer
	schemaPrefix string
	logger       zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithSchemaPrefix sets the prefix of tenant schema names
func WithSchemaPrefix(prefix string) Option {
	return func(s *Service) {
		s.schemaPrefix = prefix
	}
}

// WithNamespacer overrides the namespacer picked for the connection's dialect
func WithNamespacer(ns database.Namespacer) Option {
	return func(s *Service) {
		s.namespacer = ns
	}
}

// NewService creates a new tenant service
func NewService(db *gorm.DB, reg *registry.Registry, runner *migrate.Runner, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		db:           db,
		registry:     reg,
		runner:       runner,
		namespacer:   database.NamespacerFor(db),
		schemaPrefix: models.DefaultSchemaPrefix,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create maps fields onto the tenant's declared fields, then creates the
// tenant row and schema and migrates the schema in one transaction. The
// tenant's model variants are registered once it is committed.
func (s *Service) Create(ctx context.Context, fields ...string) (*models.Tenant, error) {
	if len(fields) > len(models.TenantFields) {
		return nil, &ArgCountError{Got: fields, Fields: models.TenantFields}
	}

	var name string
	if len(fields) > 0 {
		name = fields[0]
	}
	tenant := models.NewTenant(name, s.schemaPrefix)
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, utils.WrapDatabaseError("check tenant", err)
	}
	if count > 0 {
		return nil, utils.WrapConflictError("tenant", "name", name)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			var vetoed *signals.ReceiverError
			if errors.As(err, &vetoed) {
				return err
			}
			return utils.WrapDatabaseError("create tenant", err)
		}
		if err := s.namespacer.CreateSchema(ctx, tx, tenant.SchemaName()); err != nil {
			return utils.WrapDatabaseError("create tenant schema", err)
		}
		if err := s.runner.ApplyTenant(ctx, tx, tenant); err != nil {
			return utils.WrapDatabaseError("migrate tenant schema", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("Failed to create tenant")
		return nil, err
	}

	if err := s.registerVariants(tenant.SchemaName()); err != nil {
		return tenant, err
	}

	s.logger.Info().
		Str("name", tenant.Name).
		Str("schema", tenant.SchemaName()).
		Msg("Tenant created")
	return tenant, nil
}

// Delete drops the tenant's schema with everything in it, removes its row
// and unregisters its model variants. Without schemas the tenant's prefixed
// tables are dropped instead.
func (s *Service) Delete(ctx context.Context, name string) error {
	tenant, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.namespacer.DropSchema(ctx, tx, tenant.SchemaName(), s.Tables(tenant.SchemaName())); err != nil {
			return utils.WrapDatabaseError("drop tenant schema", err)
		}
		if err := tx.Delete(tenant).Error; err != nil {
			return utils.WrapDatabaseError("delete tenant", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.unregisterVariants(tenant.SchemaName()); err != nil {
		return err
	}

	s.logger.Info().Str("name", name).Str("schema", tenant.SchemaName()).Msg("Tenant deleted")
	return nil
}

// Get returns the tenant named name
func (s *Service) Get(ctx context.Context, name string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapNotFoundError("tenant", name)
	}
	if err != nil {
		return nil, utils.WrapDatabaseError("get tenant", err)
	}
	return &tenant, nil
}

// List returns every tenant in creation order
func (s *Service) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("id").Find(&tenants).Error; err != nil {
		return nil, utils.WrapDatabaseError("list tenants", err)
	}
	return tenants, nil
}

// Models returns the tenant scoped root models in registration order
func (s *Service) Models() []*registry.Model {
	return s.registry.TenantRoots()
}

// Variants builds the variant of every tenant scoped root for schema, in the
// table layout the runner migrates with. They are not registered.
func (s *Service) Variants(schema string) []*registry.Model {
	roots := s.registry.TenantRoots()
	variants := make([]*registry.Model, len(roots))
	for i, root := range roots {
		variants[i] = root.Specialize(schema, s.runner.Layout())
	}
	return variants
}

// Tables returns the names of the tables a tenant owns
func (s *Service) Tables(schema string) []string {
	var tables []string
	for _, v := range s.Variants(schema) {
		tables = append(tables, v.Table)
	}
	return tables
}

// Sync registers the model variants of every persisted tenant that is not
// registered yet
func (s *Service) Sync(ctx context.Context) error {
	tenants, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		if err := s.registerVariants(t.SchemaName()); err != nil {
			return err
		}
	}
	return nil
}

// registerVariants registers the variants of schema missing from the
// registry. Lookup and registration run under one registry lock.
func (s *Service) registerVariants(schema string) error {
	return s.registry.WithLock(func() error {
		var variants []*registry.Model
		for _, root := range s.registry.TenantRootsLocked() {
			if s.registry.GetModelLocked(root.App, registry.SpecializedName(schema, root.Name)) != nil {
				continue
			}
			variants = append(variants, root.Specialize(schema, s.runner.Layout()))
		}
		if len(variants) == 0 {
			return nil
		}
		if err := s.registry.RegisterLocked(variants...); err != nil {
			return fmt.Errorf("failed to register models for %s: %w", schema, err)
		}
		return nil
	})
}

func (s *Service) unregisterVariants(schema string) error {
	return s.registry.WithLock(func() error {
		roots := s.registry.TenantRootsLocked()
		for i := len(roots) - 1; i >= 0; i-- {
			variant := s.registry.GetModelLocked(roots[i].App, registry.SpecializedName(schema, roots[i].Name))
			if variant == nil {
				continue
			}
			if err := s.registry.RemoveLocked(variant, true); err != nil {
				return fmt.Errorf("failed to unregister %s for %s: %w", roots[i].Label(), schema, err)
			}
		}
		return nil
	})
}
