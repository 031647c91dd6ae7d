package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/models"
)

// DefaultSchema is the shared schema tenants fall back to
const DefaultSchema = "public"

// Tenant is anything owning a schema
type Tenant interface {
	SchemaName() string
}

// SchemaSwitcher produces the statements that point a session at a tenant's
// schema and back at the shared one
type SchemaSwitcher interface {
	PreTenantSQL(tenant Tenant, defaultSchema string) []string
	PostTenantSQL(tenant Tenant, defaultSchema string) []string
}

// SearchPathSwitcher switches schemas through the PostgreSQL search path
type SearchPathSwitcher struct{}

// PreTenantSQL implements SchemaSwitcher
func (SearchPathSwitcher) PreTenantSQL(tenant Tenant, defaultSchema string) []string {
	return []string{fmt.Sprintf("SET search_path TO %s, %s",
		pq.QuoteIdentifier(tenant.SchemaName()), pq.QuoteIdentifier(defaultSchema))}
}

// PostTenantSQL implements SchemaSwitcher
func (SearchPathSwitcher) PostTenantSQL(_ Tenant, defaultSchema string) []string {
	return []string{"SET search_path TO " + pq.QuoteIdentifier(defaultSchema)}
}

// NoopSwitcher is used on backends without schemas
type NoopSwitcher struct{}

// PreTenantSQL implements SchemaSwitcher
func (NoopSwitcher) PreTenantSQL(Tenant, string) []string { return nil }

// PostTenantSQL implements SchemaSwitcher
func (NoopSwitcher) PostTenantSQL(Tenant, string) []string { return nil }

// SwitcherFor returns the switcher for a GORM dialect name
func SwitcherFor(dialect string) SchemaSwitcher {
	if dialect == "postgres" {
		return SearchPathSwitcher{}
	}
	return NoopSwitcher{}
}

// TenantSource enumerates the tenants a migration is replayed for
type TenantSource interface {
	Tenants(ctx context.Context) ([]Tenant, error)
}

// StaticTenants is a fixed tenant list
type StaticTenants []Tenant

// Tenants implements TenantSource
func (s StaticTenants) Tenants(context.Context) ([]Tenant, error) {
	return s, nil
}

// GormTenantSource reads tenants from the tenants table in id order
type GormTenantSource struct {
	DB *gorm.DB
}

// Tenants implements TenantSource
func (s GormTenantSource) Tenants(ctx context.Context) ([]Tenant, error) {
	var rows []*models.Tenant
	if err := s.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}

	tenants := make([]Tenant, len(rows))
	for i, row := range rows {
		tenants[i] = row
	}
	return tenants, nil
}

// TenantMigration replays a migration once for every tenant, switching the
// session to the tenant's schema around each replay. Statements the replay
// defers are wrapped in the same switch so they run against the right schema
// when the queue is flushed.
type TenantMigration struct {
	*Migration

	Source        TenantSource
	Switcher      SchemaSwitcher
	DefaultSchema string
	Metrics       *Metrics
	Logger        zerolog.Logger
}

// NewTenantMigration wraps m. Unset collaborators are filled in by the
// runner on registration.
func NewTenantMigration(m *Migration) *TenantMigration {
	return &TenantMigration{Migration: m, Logger: zerolog.Nop()}
}

// WithTenants returns a copy of m bound to another tenant source
func (m *TenantMigration) WithTenants(source TenantSource) *TenantMigration {
	cp := *m
	cp.Source = source
	return &cp
}

type step func(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error

// Apply runs the migration forwards for every tenant
func (m *TenantMigration) Apply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error {
	return m.tenantStep(ctx, "forwards", m.Migration.Apply, state, editor, collectSQL)
}

// Unapply runs the migration backwards for every tenant
func (m *TenantMigration) Unapply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error {
	return m.tenantStep(ctx, "backwards", m.Migration.Unapply, state, editor, collectSQL)
}

func (m *TenantMigration) tenantStep(ctx context.Context, direction string, apply step, state *ProjectState, editor SchemaEditor, collectSQL bool) error {
	if m.Source == nil {
		return fmt.Errorf("tenant migration %s has no tenant source", m.Version)
	}
	switcher := m.Switcher
	if switcher == nil {
		switcher = NoopSwitcher{}
	}
	defaultSchema := m.DefaultSchema
	if defaultSchema == "" {
		defaultSchema = DefaultSchema
	}

	tenants, err := m.Source.Tenants(ctx)
	if err != nil {
		return err
	}

	deferred := editor.Deferred()
	for _, tenant := range tenants {
		start := time.Now()
		schema := tenant.SchemaName()

		pre := switcher.PreTenantSQL(tenant, defaultSchema)
		for _, stmt := range pre {
			if err := editor.Execute(ctx, stmt); err != nil {
				return err
			}
		}

		preLen := deferred.Len()
		if err := apply(ctx, state.ForTenant(schema), editor, collectSQL); err != nil {
			return err
		}
		postLen := deferred.Len()

		post := switcher.PostTenantSQL(tenant, defaultSchema)
		for _, stmt := range post {
			if err := editor.Execute(ctx, stmt); err != nil {
				return err
			}
		}

		if postLen > preLen {
			deferred.Insert(preLen, pre...)
			deferred.Append(post...)
		}

		m.Metrics.observeTenantStep(direction, time.Since(start), postLen-preLen)
		m.Logger.Debug().
			Str("version", m.Version).
			Str("schema", schema).
			Str("direction", direction).
			Int("deferred", postLen-preLen).
			Msg("Replayed migration for tenant")
	}
	return nil
}
