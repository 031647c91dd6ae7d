package migrations

import (
	"context"

	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/registry"
)

// GetMigrations returns all registered migrations. Every one of them builds
// tenant tables, so each is replayed once per tenant schema.
func (a *App) GetMigrations() []migrate.Applier {
	return []migrate.Applier{
		migrate.NewTenantMigration(&migrate.Migration{
			App:     MemoriesApp,
			Version: "20250101_001",
			Name:    "initial",
			Operations: []migrate.Operation{
				migrate.CreateModel{Model: a.Memory},
				migrate.CreateModel{Model: a.Profile},
			},
		}),
		migrate.NewTenantMigration(&migrate.Migration{
			App:     MemoriesApp,
			Version: "20250101_002",
			Name:    "memory_update_key",
			Operations: []migrate.Operation{
				migrate.AddField{
					Model: a.Memory,
					Field: registry.Field{Name: "update_key", Type: "varchar(255)", Null: true, Index: true},
				},
				migrate.AddIndex{
					Model:   a.Memory,
					Name:    "memories_type_category_idx",
					Columns: []string{"type", "category"},
				},
			},
		}),
		migrate.NewTenantMigration(&migrate.Migration{
			App:     MemoriesApp,
			Version: "20250101_003",
			Name:    "default_category",
			Operations: []migrate.Operation{
				migrate.RunFunc{
					Description: "Set a category on uncategorized memories",
					Code:        a.backfillCategories,
				},
			},
		}),
	}
}

func (a *App) backfillCategories(ctx context.Context, editor migrate.SchemaEditor, state *migrate.ProjectState) error {
	table := state.Resolve(a.Memory).Table
	return editor.Execute(ctx, "UPDATE "+editor.QuoteName(table)+
		" SET "+editor.QuoteName("category")+" = 'personal' WHERE "+
		editor.QuoteName("category")+" IS NULL OR "+editor.QuoteName("category")+" = ''")
}
