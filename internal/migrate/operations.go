package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/schema-tenancy/internal/registry"
)

// ErrIrreversible is returned when unapplying an operation that has no
// backwards form
var ErrIrreversible = errors.New("operation is not reversible")

// Operation is one schema change inside a migration
type Operation interface {
	// Describe is a human readable summary
	Describe() string
	// StateForwards records the change in the project state
	StateForwards(state *ProjectState)
	// Forwards applies the change through the editor
	Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error
	// Backwards reverts the change through the editor
	Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error
}

// sqlReducer is implemented by operations that cannot be written as SQL
type sqlReducer interface {
	ReducesToSQL() bool
}

func reducesToSQL(op Operation) bool {
	if r, ok := op.(sqlReducer); ok {
		return r.ReducesToSQL()
	}
	return true
}

func columnSQL(editor SchemaEditor, f registry.Field) string {
	var b strings.Builder
	b.WriteString(editor.QuoteName(f.Column()))
	b.WriteString(" ")
	b.WriteString(f.Type)
	if f.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if !f.Null {
		b.WriteString(" NOT NULL")
	}
	if f.Unique && !f.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	if f.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(f.Default)
	}
	return b.String()
}

func relationSQL(editor SchemaEditor, r *registry.Relation) string {
	def := editor.QuoteName(r.Column()) + " bigint NOT NULL"
	if r.Kind == registry.OneToOne {
		def += " UNIQUE"
	}
	return def
}

func indexName(table, column string) string {
	return fmt.Sprintf("%s_%s_idx", table, column)
}

func createIndexSQL(editor SchemaEditor, table, column string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		editor.QuoteName(indexName(table, column)),
		editor.QuoteName(table),
		editor.QuoteName(column))
}

// CreateModel creates the table of a model. Indexes on indexed fields and
// foreign key columns are deferred.
type CreateModel struct {
	Model *registry.Model
}

func (op CreateModel) Describe() string {
	return "Create model " + op.Model.Name
}

func (op CreateModel) StateForwards(state *ProjectState) {
	state.addModel(op.Model)
}

func (op CreateModel) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}

	var columns []string
	var indexed []string
	for _, f := range model.Fields {
		columns = append(columns, columnSQL(editor, f))
		if f.Index && !f.Unique && !f.PrimaryKey {
			indexed = append(indexed, f.Column())
		}
	}
	for _, r := range model.Relations {
		if r.Column() == "" {
			continue
		}
		columns = append(columns, relationSQL(editor, r))
		if r.Kind == registry.ForeignKey {
			indexed = append(indexed, r.Column())
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", editor.QuoteName(model.Table), strings.Join(columns, ", "))
	if err := editor.Execute(ctx, stmt); err != nil {
		return err
	}
	for _, column := range indexed {
		editor.Deferred().Append(createIndexSQL(editor, model.Table, column))
	}
	return nil
}

func (op CreateModel) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}
	return editor.Execute(ctx, "DROP TABLE "+editor.QuoteName(model.Table))
}

// DeleteModel drops the table of a model
type DeleteModel struct {
	Model *registry.Model
}

func (op DeleteModel) Describe() string {
	return "Delete model " + op.Model.Name
}

func (op DeleteModel) StateForwards(state *ProjectState) {
	state.removeModel(op.Model)
}

func (op DeleteModel) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	return CreateModel(op).Backwards(ctx, editor, state)
}

func (op DeleteModel) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	return CreateModel(op).Forwards(ctx, editor, state)
}

// AddField adds a column to an existing model
type AddField struct {
	Model *registry.Model
	Field registry.Field
}

func (op AddField) Describe() string {
	return fmt.Sprintf("Add field %s to %s", op.Field.Name, op.Model.Name)
}

func (op AddField) StateForwards(state *ProjectState) {
	state.addField(op.Model, op.Field.Column())
}

func (op AddField) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", editor.QuoteName(model.Table), columnSQL(editor, op.Field))
	if err := editor.Execute(ctx, stmt); err != nil {
		return err
	}
	if op.Field.Index && !op.Field.Unique && !op.Field.PrimaryKey {
		editor.Deferred().Append(createIndexSQL(editor, model.Table, op.Field.Column()))
	}
	return nil
}

func (op AddField) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}
	return editor.Execute(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		editor.QuoteName(model.Table), editor.QuoteName(op.Field.Column())))
}

// RemoveField drops a column from a model
type RemoveField struct {
	Model *registry.Model
	Field registry.Field
}

func (op RemoveField) Describe() string {
	return fmt.Sprintf("Remove field %s from %s", op.Field.Name, op.Model.Name)
}

func (op RemoveField) StateForwards(state *ProjectState) {
	state.removeField(op.Model, op.Field.Column())
}

func (op RemoveField) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	return AddField(op).Backwards(ctx, editor, state)
}

func (op RemoveField) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	return AddField(op).Forwards(ctx, editor, state)
}

// AddIndex creates a named index on a model's columns. Under the prefix layout
// the name is qualified with the tenant schema.
type AddIndex struct {
	Model   *registry.Model
	Name    string
	Columns []string
	Unique  bool
}

func (op AddIndex) Describe() string {
	return fmt.Sprintf("Create index %s on %s", op.Name, op.Model.Name)
}

func (op AddIndex) StateForwards(*ProjectState) {}

func (op AddIndex) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}

	quoted := make([]string, len(op.Columns))
	for i, c := range op.Columns {
		quoted[i] = editor.QuoteName(c)
	}
	kind := "INDEX"
	if op.Unique {
		kind = "UNIQUE INDEX"
	}
	return editor.Execute(ctx, fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, editor.QuoteName(model.Qualify(op.Name)), editor.QuoteName(model.Table), strings.Join(quoted, ", ")))
}

func (op AddIndex) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	model := state.Resolve(op.Model)
	if !editor.AllowMigrate(model) {
		return nil
	}
	return editor.Execute(ctx, "DROP INDEX "+editor.QuoteName(model.Qualify(op.Name)))
}

// RunSQL executes raw statements. Without ReverseSQL it cannot be unapplied.
type RunSQL struct {
	SQL        []string
	ReverseSQL []string
}

func (op RunSQL) Describe() string {
	return "Raw SQL operation"
}

func (op RunSQL) StateForwards(*ProjectState) {}

func (op RunSQL) Forwards(ctx context.Context, editor SchemaEditor, _ *ProjectState) error {
	for _, stmt := range op.SQL {
		if err := editor.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (op RunSQL) Backwards(ctx context.Context, editor SchemaEditor, _ *ProjectState) error {
	if op.ReverseSQL == nil {
		return ErrIrreversible
	}
	for _, stmt := range op.ReverseSQL {
		if err := editor.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Func is the body of a RunFunc operation
type Func func(ctx context.Context, editor SchemaEditor, state *ProjectState) error

// RunFunc runs Go code as part of a migration
type RunFunc struct {
	Description string
	Code        Func
	ReverseCode Func
}

func (op RunFunc) Describe() string {
	if op.Description != "" {
		return op.Description
	}
	return "Raw Go operation"
}

// ReducesToSQL is false: the code runs against the live connection
func (op RunFunc) ReducesToSQL() bool {
	return false
}

func (op RunFunc) StateForwards(*ProjectState) {}

func (op RunFunc) Forwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	if op.Code == nil {
		return nil
	}
	return op.Code(ctx, editor, state)
}

func (op RunFunc) Backwards(ctx context.Context, editor SchemaEditor, state *ProjectState) error {
	if op.ReverseCode == nil {
		return ErrIrreversible
	}
	return op.ReverseCode(ctx, editor, state)
}
