package migrations

import (
	"github.com/ksred/schema-tenancy/internal/registry"
)

// App labels
const (
	TenancyApp  = "tenancy"
	MemoriesApp = "memories"
)

// App holds the model declarations of the service. The tenant model is
// shared; memories and profiles exist once per tenant schema.
type App struct {
	Tenant  *registry.Model
	Memory  *registry.Model
	Profile *registry.Model
}

// NewApp builds a fresh set of declarations. Each registry needs its own, as
// registration records reverse accessors on the models.
func NewApp() *App {
	tenant := &registry.Model{
		App:   TenancyApp,
		Name:  "tenant",
		Table: "tenants",
		Fields: []registry.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "name", Type: "varchar(50)", Unique: true},
			{Name: "db_schema", Type: "varchar(63)", Unique: true},
		},
	}

	memory := &registry.Model{
		App:          MemoriesApp,
		Name:         "memory",
		Table:        "memories",
		TenantScoped: true,
		Fields: []registry.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "type", Type: "varchar(20)", Index: true},
			{Name: "category", Type: "varchar(20)", Index: true},
			{Name: "content", Type: "text"},
			{Name: "tags", Type: "text", Null: true},
			{Name: "created_at", Type: "timestamp", Default: "CURRENT_TIMESTAMP"},
		},
		Relations: []*registry.Relation{
			{Name: "tenant", Kind: registry.ForeignKey, To: tenant, RelatedName: "+"},
		},
	}

	profile := &registry.Model{
		App:          MemoriesApp,
		Name:         "profile",
		Table:        "profiles",
		TenantScoped: true,
		Fields: []registry.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "display_name", Type: "varchar(100)", Null: true},
			{Name: "settings", Type: "text", Default: "'{}'"},
		},
		Relations: []*registry.Relation{
			{Name: "tenant", Kind: registry.OneToOne, To: tenant, RelatedName: "+"},
		},
	}

	// generic relation to a tenant root; dropped on registration
	tenant.VirtualFields = []registry.VirtualField{{Name: "memories", Generic: true, To: memory}}

	return &App{Tenant: tenant, Memory: memory, Profile: profile}
}

// Labels returns the app labels the models belong to
func (a *App) Labels() []string {
	return []string{TenancyApp, MemoriesApp}
}

// Models returns the declarations in registration order
func (a *App) Models() []*registry.Model {
	return []*registry.Model{a.Tenant, a.Memory, a.Profile}
}

// Register adds the app's models to reg. Generic relations into tenant
// roots are removed first since they can never hold rows.
func (a *App) Register(reg *registry.Registry) error {
	for _, label := range a.Labels() {
		reg.RegisterApp(label)
	}
	for _, m := range a.Models() {
		registry.RemoveVirtualFields(m)
	}
	return reg.Register(a.Models()...)
}
