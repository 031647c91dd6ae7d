package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/database"
	"github.com/ksred/schema-tenancy/internal/models"
	"github.com/ksred/schema-tenancy/internal/registry"
	"github.com/ksred/schema-tenancy/internal/router"
)

// DefaultLockKey names the lock serializing migration runs
const DefaultLockKey = "schema_tenancy_migrations"

// ErrUnknownMigration is returned for a version no registered migration has
var ErrUnknownMigration = errors.New("unknown migration")

// Status is the applied state of one registered migration
type Status struct {
	Version   string     `json:"version"`
	App       string     `json:"app"`
	Name      string     `json:"name"`
	Tenant    bool       `json:"tenant"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Runner applies registered migrations and records them in the ledger
type Runner struct {
	db            *gorm.DB
	logger        zerolog.Logger
	migrations    []Applier
	lock          database.Lock
	lockKey       string
	router        router.Router
	alias         string
	tenants       TenantSource
	switcher      SchemaSwitcher
	layout        registry.Layout
	defaultSchema string
	metrics       *Metrics
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithLock replaces the lock picked for the connection's dialect
func WithLock(lock database.Lock, key string) RunnerOption {
	return func(r *Runner) {
		r.lock = lock
		if key != "" {
			r.lockKey = key
		}
	}
}

// WithLockKey names the lock serializing runs
func WithLockKey(key string) RunnerOption {
	return func(r *Runner) {
		if key != "" {
			r.lockKey = key
		}
	}
}

// WithMigrationRouter sets the router every editor consults
func WithMigrationRouter(rt router.Router) RunnerOption {
	return func(r *Runner) {
		r.router = rt
	}
}

// WithDatabaseAlias sets the alias editors report to routers
func WithDatabaseAlias(alias string) RunnerOption {
	return func(r *Runner) {
		r.alias = alias
	}
}

// WithTenantSource sets the tenants replayed by tenant migrations. By default
// tenants are read from the tenants table inside each migration transaction.
func WithTenantSource(source TenantSource) RunnerOption {
	return func(r *Runner) {
		r.tenants = source
	}
}

// WithSwitcher overrides the switcher picked for the connection's dialect
func WithSwitcher(s SchemaSwitcher) RunnerOption {
	return func(r *Runner) {
		r.switcher = s
	}
}

// WithLayout overrides the table layout picked for the connection's dialect
func WithLayout(layout registry.Layout) RunnerOption {
	return func(r *Runner) {
		r.layout = layout
	}
}

// WithDefaultSchema sets the shared schema tenants fall back to
func WithDefaultSchema(schema string) RunnerOption {
	return func(r *Runner) {
		r.defaultSchema = schema
	}
}

// WithMetrics records runs on m
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a new migration runner
func NewRunner(db *gorm.DB, logger zerolog.Logger, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		db:            db,
		logger:        logger,
		lockKey:       DefaultLockKey,
		router:        router.TenancyRouter{},
		alias:         "default",
		switcher:      SwitcherFor(db.Dialector.Name()),
		layout:        registry.LayoutFor(db.Dialector.Name()),
		defaultSchema: DefaultSchema,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.lock == nil {
		lock, err := database.LockFor(db)
		if err != nil {
			return nil, err
		}
		r.lock = lock
	}
	return r, nil
}

// Register adds migrations to the runner. Tenant migrations without their
// own collaborators get the runner's.
func (r *Runner) Register(migrations ...Applier) {
	for _, m := range migrations {
		if tm, ok := m.(*TenantMigration); ok {
			if tm.Switcher == nil {
				tm.Switcher = r.switcher
			}
			if tm.DefaultSchema == "" {
				tm.DefaultSchema = r.defaultSchema
			}
			if tm.Metrics == nil {
				tm.Metrics = r.metrics
			}
			tm.Logger = r.logger
		}
		r.migrations = append(r.migrations, m)
	}

	sort.SliceStable(r.migrations, func(i, j int) bool {
		return r.migrations[i].Base().Version < r.migrations[j].Base().Version
	})
}

// Migrations returns the registered migrations in version order
func (r *Runner) Migrations() []Applier {
	out := make([]Applier, len(r.migrations))
	copy(out, r.migrations)
	return out
}

// Run executes all pending migrations
func (r *Runner) Run(ctx context.Context) error {
	release, err := r.lock.Acquire(ctx, r.lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := r.ensureTables(ctx); err != nil {
		return err
	}

	appliedMap, err := r.appliedVersions(ctx)
	if err != nil {
		return err
	}

	state := r.newState()
	for _, m := range r.migrations {
		base := m.Base()
		if appliedMap[base.Version] {
			base.StateForwards(state)
			r.logger.Debug().
				Str("version", base.Version).
				Str("name", base.Name).
				Msg("Migration already applied, skipping")
			continue
		}

		r.logger.Info().
			Str("version", base.Version).
			Str("name", base.Name).
			Bool("tenant", isTenant(m)).
			Msg("Running migration")

		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("failed to start transaction: %w", tx.Error)
		}

		editor := r.newEditor(tx)
		if err := r.bind(m, tx).Apply(ctx, state, editor, false); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", base.Version, err)
		}
		if err := editor.Flush(ctx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s deferred sql failed: %w", base.Version, err)
		}

		record := &models.Migration{
			Version:   base.Version,
			App:       base.App,
			Name:      base.Name,
			Tenant:    isTenant(m),
			AppliedAt: time.Now(),
		}
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", base.Version, err)
		}

		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", base.Version, err)
		}

		r.metrics.observeMigration("forwards", isTenant(m))
		r.logger.Info().
			Str("version", base.Version).
			Str("name", base.Name).
			Msg("Migration completed successfully")
	}

	return nil
}

// Rollback unapplies the last n applied migrations, newest first
func (r *Runner) Rollback(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	release, err := r.lock.Acquire(ctx, r.lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := r.ensureTables(ctx); err != nil {
		return err
	}

	var records []models.Migration
	if err := r.db.WithContext(ctx).Order("version DESC").Limit(n).Find(&records).Error; err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, record := range records {
		m, ok := r.find(record.Version)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMigration, record.Version)
		}
		state := r.stateBefore(record.Version)

		r.logger.Info().
			Str("version", record.Version).
			Str("name", record.Name).
			Msg("Unapplying migration")

		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("failed to start transaction: %w", tx.Error)
		}

		editor := r.newEditor(tx)
		if err := r.bind(m, tx).Unapply(ctx, state, editor, false); err != nil {
			tx.Rollback()
			return fmt.Errorf("unapply %s failed: %w", record.Version, err)
		}
		if err := editor.Flush(ctx); err != nil {
			tx.Rollback()
			return fmt.Errorf("unapply %s deferred sql failed: %w", record.Version, err)
		}
		if err := tx.Delete(&models.Migration{}, record.ID).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to remove migration record %s: %w", record.Version, err)
		}
		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("failed to commit rollback of %s: %w", record.Version, err)
		}

		r.metrics.observeMigration("backwards", isTenant(m))
	}
	return nil
}

// SQL returns the statements a migration would run, deferred ones included,
// without touching the schema
func (r *Runner) SQL(ctx context.Context, version string, backwards bool) ([]string, error) {
	m, ok := r.find(version)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, version)
	}

	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", tx.Error)
	}
	defer tx.Rollback()

	editor := r.newEditor(tx, Collecting())
	state := r.stateBefore(version)
	applier := r.bind(m, tx)

	if backwards {
		err := applier.Unapply(ctx, state, editor, true)
		if err != nil {
			return nil, err
		}
	} else if err := applier.Apply(ctx, state, editor, true); err != nil {
		return nil, err
	}
	if err := editor.Flush(ctx); err != nil {
		return nil, err
	}
	return editor.Collected(), nil
}

// Pending returns the registered migrations not yet applied
func (r *Runner) Pending(ctx context.Context) ([]Applier, error) {
	appliedMap, err := r.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Applier
	for _, m := range r.migrations {
		if !appliedMap[m.Base().Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Applied returns the ledger rows in version order
func (r *Runner) Applied(ctx context.Context) ([]models.Migration, error) {
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}

	var records []models.Migration
	if err := r.db.WithContext(ctx).Order("version").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	return records, nil
}

// Status lists every registered migration with its applied state
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	records, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]models.Migration, len(records))
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}

	statuses := make([]Status, 0, len(r.migrations))
	for _, m := range r.migrations {
		base := m.Base()
		st := Status{
			Version: base.Version,
			App:     base.App,
			Name:    base.Name,
			Tenant:  isTenant(m),
		}
		if rec, ok := byVersion[base.Version]; ok {
			appliedAt := rec.AppliedAt
			st.Applied = true
			st.AppliedAt = &appliedAt
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// ApplyTenant replays every applied tenant migration for a single tenant on
// db, which may be the caller's transaction. A nil db uses the runner's.
func (r *Runner) ApplyTenant(ctx context.Context, db *gorm.DB, tenant Tenant) error {
	if db == nil {
		db = r.db
	}

	release, err := r.lock.Acquire(ctx, r.lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if !db.Migrator().HasTable(&models.Migration{}) {
		return nil
	}

	var applied []string
	if err := db.WithContext(ctx).Model(&models.Migration{}).Order("version").Pluck("version", &applied).Error; err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedMap := make(map[string]bool, len(applied))
	for _, v := range applied {
		appliedMap[v] = true
	}

	editor := r.newEditor(db)
	state := r.newState()
	for _, m := range r.migrations {
		base := m.Base()
		if !appliedMap[base.Version] {
			continue
		}
		tm, ok := m.(*TenantMigration)
		if !ok {
			base.StateForwards(state)
			continue
		}
		if err := tm.WithTenants(StaticTenants{tenant}).Apply(ctx, state, editor, false); err != nil {
			return fmt.Errorf("migration %s failed for %s: %w", base.Version, tenant.SchemaName(), err)
		}
	}

	if err := editor.Flush(ctx); err != nil {
		return fmt.Errorf("deferred sql failed for %s: %w", tenant.SchemaName(), err)
	}

	r.logger.Info().Str("schema", tenant.SchemaName()).Msg("Tenant schema migrated")
	return nil
}

// Prepare creates the ledger and tenants tables
func (r *Runner) Prepare(ctx context.Context) error {
	return r.ensureTables(ctx)
}

func (r *Runner) ensureTables(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&models.Migration{}, &models.Tenant{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (r *Runner) appliedVersions(ctx context.Context) (map[string]bool, error) {
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}

	var applied []string
	if err := r.db.WithContext(ctx).Model(&models.Migration{}).Pluck("version", &applied).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool, len(applied))
	for _, v := range applied {
		appliedMap[v] = true
	}
	return appliedMap, nil
}

// Layout returns the table layout tenant variants are migrated with
func (r *Runner) Layout() registry.Layout {
	return r.layout
}

func (r *Runner) newState() *ProjectState {
	return NewProjectState().WithLayout(r.layout)
}

func (r *Runner) newEditor(db *gorm.DB, opts ...EditorOption) *Editor {
	opts = append([]EditorOption{WithAlias(r.alias), WithRouter(r.router)}, opts...)
	return NewEditor(db, r.logger, opts...)
}

// bind gives a tenant migration its tenant source for one run. Tenants are
// read through tx so the run sees a single connection.
func (r *Runner) bind(m Applier, tx *gorm.DB) Applier {
	tm, ok := m.(*TenantMigration)
	if !ok || tm.Source != nil {
		return m
	}
	if r.tenants != nil {
		return tm.WithTenants(r.tenants)
	}
	return tm.WithTenants(GormTenantSource{DB: tx})
}

func (r *Runner) find(version string) (Applier, bool) {
	for _, m := range r.migrations {
		if m.Base().Version == version {
			return m, true
		}
	}
	return nil, false
}

func (r *Runner) stateBefore(version string) *ProjectState {
	state := r.newState()
	for _, m := range r.migrations {
		if m.Base().Version >= version {
			break
		}
		m.Base().StateForwards(state)
	}
	return state
}

func isTenant(m Applier) bool {
	_, ok := m.(*TenantMigration)
	return ok
}
