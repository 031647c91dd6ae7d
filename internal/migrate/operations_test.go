package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/schema-tenancy/internal/registry"
)

func memoryModel() *registry.Model {
	return &registry.Model{
		App:          "memories",
		Name:         "memory",
		Table:        "memories",
		TenantScoped: true,
		Fields: []registry.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "content", Type: "text"},
			{Name: "kind", Type: "text", Index: true},
			{Name: "summary", Type: "text", Null: true, Default: "''"},
		},
	}
}

func TestCreateModel_Forwards(t *testing.T) {
	ctx := context.Background()
	model := memoryModel()
	model.Relations = []*registry.Relation{
		{Name: "owner", Kind: registry.ForeignKey, To: &registry.Model{App: "tenancy", Name: "tenant"}, RelatedName: "+"},
		{Name: "profile", Kind: registry.OneToOne, To: &registry.Model{App: "memories", Name: "profile"}},
		{Name: "tags", Kind: registry.ManyToMany, To: &registry.Model{App: "memories", Name: "tag"}},
	}
	editor := &recordingEditor{}
	state := NewProjectState().ForTenant("tenant_acme")

	require.NoError(t, CreateModel{Model: model}.Forwards(ctx, editor, state))
	assert.Equal(t, []string{
		`CREATE TABLE "memories" ("id" bigserial PRIMARY KEY, "content" text NOT NULL, "kind" text NOT NULL, ` +
			`"summary" text DEFAULT '', "owner_id" bigint NOT NULL, "profile_id" bigint NOT NULL UNIQUE)`,
	}, editor.executed)
	assert.Equal(t, []string{
		`CREATE INDEX "memories_kind_idx" ON "memories" ("kind")`,
		`CREATE INDEX "memories_owner_id_idx" ON "memories" ("owner_id")`,
	}, editor.deferred.Statements())

	CreateModel{Model: model}.StateForwards(state)
	ms, ok := state.Model("memories", "memory")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "content", "kind", "summary", "owner_id", "profile_id"}, ms.Fields)
}

func TestCreateModel_RouterSkipsRootTemplate(t *testing.T) {
	editor := &routedEditor{}
	require.NoError(t, CreateModel{Model: memoryModel()}.Forwards(context.Background(), editor, NewProjectState()))
	assert.Empty(t, editor.executed)
	assert.Zero(t, editor.deferred.Len())
}

func TestDeleteModel(t *testing.T) {
	ctx := context.Background()
	editor := &recordingEditor{}
	state := NewProjectState()
	shared := &registry.Model{App: "tenancy", Name: "setting", Table: "settings",
		Fields: []registry.Field{{Name: "id", Type: "integer", PrimaryKey: true}}}

	CreateModel{Model: shared}.StateForwards(state)
	require.NoError(t, DeleteModel{Model: shared}.Forwards(ctx, editor, state))
	DeleteModel{Model: shared}.StateForwards(state)
	require.NoError(t, DeleteModel{Model: shared}.Backwards(ctx, editor, state))

	assert.Equal(t, []string{`DROP TABLE "settings"`, `CREATE TABLE "settings" ("id" integer PRIMARY KEY)`}, editor.executed)
	_, ok := state.Model("tenancy", "setting")
	assert.False(t, ok)
}

func TestAddAndRemoveField(t *testing.T) {
	ctx := context.Background()
	editor := &recordingEditor{}
	model := memoryModel()
	state := NewProjectState().ForTenant("tenant_a")
	CreateModel{Model: model}.StateForwards(state)

	add := AddField{Model: model, Field: registry.Field{Name: "score", Type: "integer", Index: true, Default: "0"}}
	require.NoError(t, add.Forwards(ctx, editor, state))
	add.StateForwards(state)
	add.StateForwards(state)

	remove := RemoveField(add)
	require.NoError(t, remove.Forwards(ctx, editor, state))

	assert.Equal(t, []string{
		`ALTER TABLE "memories" ADD COLUMN "score" integer NOT NULL DEFAULT 0`,
		`ALTER TABLE "memories" DROP COLUMN "score"`,
	}, editor.executed)
	assert.Equal(t, []string{`CREATE INDEX "memories_score_idx" ON "memories" ("score")`}, editor.deferred.Statements())

	ms, _ := state.Model("memories", "memory")
	assert.Equal(t, []string{"id", "content", "kind", "summary", "score"}, ms.Fields)
	remove.StateForwards(state)
	ms, _ = state.Model("memories", "memory")
	assert.Equal(t, []string{"id", "content", "kind", "summary"}, ms.Fields)
}

func TestAddIndex(t *testing.T) {
	ctx := context.Background()
	editor := &recordingEditor{}
	state := NewProjectState().ForTenant("tenant_a")
	op := AddIndex{Model: memoryModel(), Name: "memories_kind_content", Columns: []string{"kind", "content"}, Unique: true}

	require.NoError(t, op.Forwards(ctx, editor, state))
	require.NoError(t, op.Backwards(ctx, editor, state))
	assert.Equal(t, []string{
		`CREATE UNIQUE INDEX "memories_kind_content" ON "memories" ("kind", "content")`,
		`DROP INDEX "memories_kind_content"`,
	}, editor.executed)
}

func TestOperations_PrefixLayout(t *testing.T) {
	ctx := context.Background()
	editor := &recordingEditor{}
	model := memoryModel()
	state := NewProjectState().WithLayout(registry.PrefixLayout).ForTenant("tenant_a")

	require.NoError(t, CreateModel{Model: model}.Forwards(ctx, editor, state))
	index := AddIndex{Model: model, Name: "memories_kind_content", Columns: []string{"kind", "content"}}
	require.NoError(t, index.Forwards(ctx, editor, state))
	require.NoError(t, index.Backwards(ctx, editor, state))

	require.Len(t, editor.executed, 3)
	assert.Contains(t, editor.executed[0], `CREATE TABLE "tenant_a_memories" (`)
	assert.Equal(t, `CREATE INDEX "tenant_a_memories_kind_content" ON "tenant_a_memories" ("kind", "content")`, editor.executed[1])
	assert.Equal(t, `DROP INDEX "tenant_a_memories_kind_content"`, editor.executed[2])
	assert.Equal(t, []string{
		`CREATE INDEX "tenant_a_memories_kind_idx" ON "tenant_a_memories" ("kind")`,
	}, editor.deferred.Statements())

	// shared models are never prefixed
	assert.Same(t, model, NewProjectState().WithLayout(registry.PrefixLayout).Resolve(model))
}

func TestRunSQL(t *testing.T) {
	ctx := context.Background()
	editor := &recordingEditor{}
	state := NewProjectState()

	op := RunSQL{SQL: []string{"SELECT 1", "SELECT 2"}, ReverseSQL: []string{"SELECT 3"}}
	require.NoError(t, op.Forwards(ctx, editor, state))
	require.NoError(t, op.Backwards(ctx, editor, state))
	assert.Equal(t, []string{"SELECT 1", "SELECT 2", "SELECT 3"}, editor.executed)

	err := RunSQL{SQL: []string{"SELECT 1"}}.Backwards(ctx, editor, state)
	assert.ErrorIs(t, err, ErrIrreversible)
}

func TestRunFunc(t *testing.T) {
	ctx := context.Background()
	calls := 0
	op := RunFunc{
		Description: "Backfill kinds",
		Code: func(ctx context.Context, editor SchemaEditor, _ *ProjectState) error {
			calls++
			return editor.Execute(ctx, "UPDATE memories SET kind = 'note'")
		},
	}

	editor := &recordingEditor{}
	require.NoError(t, op.Forwards(ctx, editor, NewProjectState()))
	assert.Equal(t, 1, calls)
	assert.False(t, op.ReducesToSQL())
	assert.Equal(t, "Backfill kinds", op.Describe())
	assert.ErrorIs(t, op.Backwards(ctx, editor, NewProjectState()), ErrIrreversible)
}

func TestMigration_ApplyCollectSQL(t *testing.T) {
	ctx := context.Background()
	calls := 0
	m := &Migration{
		App:     "memories",
		Version: "0002",
		Name:    "backfill",
		Operations: []Operation{
			RunSQL{SQL: []string{"SELECT 1"}},
			RunFunc{Description: "Backfill", Code: func(context.Context, SchemaEditor, *ProjectState) error {
				calls++
				return nil
			}},
		},
	}

	editor := &recordingEditor{}
	require.NoError(t, m.Apply(ctx, NewProjectState(), editor, true))
	assert.Zero(t, calls)
	assert.Equal(t, []string{
		"--", "-- Raw SQL operation", "--", "SELECT 1",
		"--", "-- Backfill", "--", "-- MIGRATION NOW PERFORMS OPERATION THAT CANNOT BE WRITTEN AS SQL",
	}, editor.executed)
	assert.Equal(t, "memories.0002_backfill", m.Label())
}

func TestMigration_UnapplyReversesOrder(t *testing.T) {
	m := &Migration{Operations: []Operation{
		RunSQL{SQL: []string{"a"}, ReverseSQL: []string{"undo a"}},
		RunSQL{SQL: []string{"b"}, ReverseSQL: []string{"undo b"}},
	}}
	editor := &recordingEditor{}
	require.NoError(t, m.Unapply(context.Background(), NewProjectState(), editor, false))
	assert.Equal(t, []string{"undo b", "undo a"}, editor.executed)
}

// routedEditor consults the tenancy router like Editor does
type routedEditor struct {
	recordingEditor
}

func (e *routedEditor) AllowMigrate(m *registry.Model) bool {
	return !(m.TenantScoped && m.IsRoot())
}
