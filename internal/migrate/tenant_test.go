package migrate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ksred/schema-tenancy/internal/registry"
)

type schema string

func (s schema) SchemaName() string { return string(s) }

// recordingEditor records executed statements and fails on a chosen one
type recordingEditor struct {
	executed []string
	deferred DeferredSQL
	failOn   string
	failErr  error
}

func (e *recordingEditor) Execute(_ context.Context, statement string) error {
	if e.failOn != "" && statement == e.failOn {
		return e.failErr
	}
	e.executed = append(e.executed, statement)
	return nil
}

func (e *recordingEditor) Deferred() *DeferredSQL { return &e.deferred }

func (e *recordingEditor) QuoteName(name string) string { return `"` + name + `"` }

func (e *recordingEditor) AllowMigrate(*registry.Model) bool { return true }

// tenantOp executes one statement naming the tenant and defers n more
type tenantOp struct {
	defers int
}

func (op tenantOp) Describe() string { return "tenant op" }
func (op tenantOp) StateForwards(*ProjectState) {}
func (op tenantOp) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	if err := editor.Execute(ctx, "op "+state.Tenant()); err != nil {
		return err
	}
	for i := 0; i < op.defers; i++ {
		editor.Deferred().Append(fmt.Sprintf("deferred %s %d", state.Tenant(), i))
	}
	return nil
}
func (op tenantOp) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	return editor.Execute(ctx, "undo "+state.Tenant())
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Tenants(ctx context.Context) ([]Tenant, error) {
	args := m.Called(ctx)
	tenants, _ := args.Get(0).([]Tenant)
	return tenants, args.Error(1)
}

func newTenantMigration(ops ...Operation) *TenantMigration {
	tm := NewTenantMigration(&Migration{App: "memories", Version: "0001", Name: "initial", Operations: ops})
	tm.Switcher = SearchPathSwitcher{}
	tm.Source = StaticTenants{schema("t1"), schema("t2"), schema("t3")}
	return tm
}

func pre(s string) string { return fmt.Sprintf(`SET search_path TO "%s", "public"`, s) }
func post() string { return `SET search_path TO "public"` }

func TestSearchPathSwitcher(t *testing.T) {
	s := SearchPathSwitcher{}
	assert.Equal(t, []string{`SET search_path TO "tenant_acme", "public"`}, s.PreTenantSQL(schema("tenant_acme"), "public"))
	assert.Equal(t, []string{`SET search_path TO "public"`}, s.PostTenantSQL(schema("tenant_acme"), "public"))
	assert.Equal(t, []string{`SET search_path TO "we""ird", "shared"`}, s.PreTenantSQL(schema(`we"ird`), "shared"))

	assert.Nil(t, NoopSwitcher{}.PreTenantSQL(schema("a"), "public"))
	assert.Nil(t, NoopSwitcher{}.PostTenantSQL(schema("a"), "public"))

	assert.IsType(t, SearchPathSwitcher{}, SwitcherFor("postgres"))
	assert.IsType(t, NoopSwitcher{}, SwitcherFor("sqlite"))
}

func TestTenantMigration_ApplyWrapsDeferredPerTenant(t *testing.T) {
	editor := &recordingEditor{}
	editor.deferred.Append("existing")
	tm := newTenantMigration(tenantOp{defers: 1})

	err := tm.Apply(context.Background(), NewProjectState(), editor, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		pre("t1"), "op t1", post(),
		pre("t2"), "op t2", post(),
		pre("t3"), "op t3", post(),
	}, editor.executed)

	assert.Equal(t, []string{
		"existing",
		pre("t1"), "deferred t1 0", post(),
		pre("t2"), "deferred t2 0", post(),
		pre("t3"), "deferred t3 0", post(),
	}, editor.deferred.Statements())
}

func TestTenantMigration_MultipleDeferredShareOneSwitch(t *testing.T) {
	editor := &recordingEditor{}
	tm := newTenantMigration(tenantOp{defers: 2})
	tm.Source = StaticTenants{schema("t1")}

	require.NoError(t, tm.Apply(context.Background(), NewProjectState(), editor, false))
	assert.Equal(t, []string{pre("t1"), "deferred t1 0", "deferred t1 1", post()}, editor.deferred.Statements())
}

func TestTenantMigration_NothingDeferredLeavesQueue(t *testing.T) {
	editor := &recordingEditor{}
	editor.deferred.Append("existing")
	tm := newTenantMigration(tenantOp{defers: 0})

	require.NoError(t, tm.Apply(context.Background(), NewProjectState(), editor, false))
	assert.Equal(t, []string{"existing"}, editor.deferred.Statements())
	assert.Len(t, editor.executed, 9)
}

func TestTenantMigration_NoTenants(t *testing.T) {
	editor := &recordingEditor{}
	tm := newTenantMigration(tenantOp{defers: 1})
	tm.Source = StaticTenants{}

	require.NoError(t, tm.Apply(context.Background(), NewProjectState(), editor, false))
	assert.Empty(t, editor.executed)
	assert.Zero(t, editor.deferred.Len())
}

func TestTenantMigration_Unapply(t *testing.T) {
	editor := &recordingEditor{}
	tm := newTenantMigration(tenantOp{defers: 1})
	tm.Source = StaticTenants{schema("t1"), schema("t2")}

	require.NoError(t, tm.Unapply(context.Background(), NewProjectState(), editor, false))
	assert.Equal(t, []string{pre("t1"), "undo t1", post(), pre("t2"), "undo t2", post()}, editor.executed)
	assert.Zero(t, editor.deferred.Len())
}

func TestTenantMigration_ErrorsPropagateUnchanged(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("pre statement", func(t *testing.T) {
		editor := &recordingEditor{failOn: pre("t2"), failErr: errBoom}
		err := newTenantMigration(tenantOp{defers: 1}).Apply(context.Background(), NewProjectState(), editor, false)
		assert.Same(t, errBoom, err)
		assert.Equal(t, []string{pre("t1"), "op t1", post()}, editor.executed)
	})

	t.Run("operation", func(t *testing.T) {
		editor := &recordingEditor{failOn: "op t1", failErr: errBoom}
		err := newTenantMigration(tenantOp{defers: 1}).Apply(context.Background(), NewProjectState(), editor, false)
		assert.Same(t, errBoom, err)
	})

	t.Run("post statement", func(t *testing.T) {
		editor := &recordingEditor{failOn: post(), failErr: errBoom}
		err := newTenantMigration(tenantOp{defers: 1}).Apply(context.Background(), NewProjectState(), editor, false)
		assert.Same(t, errBoom, err)
	})
}

func TestTenantMigration_SourceFromMock(t *testing.T) {
	ctx := context.Background()
	source := &mockSource{}
	source.On("Tenants", ctx).Return([]Tenant{schema("t9")}, nil).Once()

	editor := &recordingEditor{}
	tm := newTenantMigration(tenantOp{}).WithTenants(source)
	require.NoError(t, tm.Apply(ctx, NewProjectState(), editor, false))
	assert.Equal(t, []string{pre("t9"), "op t9", post()}, editor.executed)
	source.AssertExpectations(t)

	failing := &mockSource{}
	errList := errors.New("list failed")
	failing.On("Tenants", ctx).Return(nil, errList)
	err := newTenantMigration(tenantOp{}).WithTenants(failing).Apply(ctx, NewProjectState(), &recordingEditor{}, false)
	assert.ErrorIs(t, err, errList)
}

func TestTenantMigration_WithTenantsCopies(t *testing.T) {
	tm := newTenantMigration(tenantOp{})
	other := tm.WithTenants(StaticTenants{schema("x")})

	assert.NotSame(t, tm, other)
	assert.Same(t, tm.Migration, other.Migration)
	assert.Len(t, tm.Source.(StaticTenants), 3)
	assert.Len(t, other.Source.(StaticTenants), 1)
}

func TestTenantMigration_MissingSource(t *testing.T) {
	tm := NewTenantMigration(&Migration{Version: "0001"})
	err := tm.Apply(context.Background(), NewProjectState(), &recordingEditor{}, false)
	assert.Error(t, err)
}

func TestTenantMigration_ResolvesTenantVariants(t *testing.T) {
	root := &registry.Model{
		App: "memories", Name: "memory", Table: "memories", TenantScoped: true,
		Fields: []registry.Field{{Name: "id", Type: "bigserial", PrimaryKey: true}},
	}
	editor := &recordingEditor{}
	tm := newTenantMigration(CreateModel{Model: root})
	tm.Source = StaticTenants{schema("t1")}

	state := NewProjectState()
	require.NoError(t, tm.Apply(context.Background(), state, editor, false))
	assert.Equal(t, []string{pre("t1"), `CREATE TABLE "memories" ("id" bigserial PRIMARY KEY)`, post()}, editor.executed)

	ms, ok := state.Model("memories", "memory")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, ms.Fields)
	assert.Empty(t, state.Tenant())

	// without schemas every tenant gets its own table
	editor = &recordingEditor{}
	tm.Source = StaticTenants{schema("t1"), schema("t2")}
	require.NoError(t, tm.Apply(context.Background(), NewProjectState().WithLayout(registry.PrefixLayout), editor, false))
	assert.Contains(t, editor.executed, `CREATE TABLE "t1_memories" ("id" bigserial PRIMARY KEY)`)
	assert.Contains(t, editor.executed, `CREATE TABLE "t2_memories" ("id" bigserial PRIMARY KEY)`)
}

func TestMetrics_TenantSteps(t *testing.T) {
	m := NewMetrics("test")
	tm := newTenantMigration(tenantOp{defers: 1})
	tm.Metrics = m

	require.NoError(t, tm.Apply(context.Background(), NewProjectState(), &recordingEditor{}, false))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["test_tenant_steps_total"])
	assert.Equal(t, 3.0, values["test_deferred_statements_wrapped_total"])

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.observeMigration("forwards", true) })
}
