package migrate

import (
	"context"
	"fmt"
)

// Applier is a migration the runner can apply and unapply
type Applier interface {
	// Base returns the declaration of the migration
	Base() *Migration
	Apply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error
	Unapply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error
}

// Migration is an ordered list of operations identified by a version
type Migration struct {
	App        string
	Version    string
	Name       string
	Operations []Operation
}

// Base implements Applier
func (m *Migration) Base() *Migration {
	return m
}

// Label returns app.version_name
func (m *Migration) Label() string {
	return fmt.Sprintf("%s.%s_%s", m.App, m.Version, m.Name)
}

// StateForwards records every operation in state without touching the
// database
func (m *Migration) StateForwards(state *ProjectState) {
	for _, op := range m.Operations {
		op.StateForwards(state)
	}
}

// Apply runs the operations in order. Errors from the editor are returned
// unchanged. In collect mode operations that cannot be written as SQL only
// leave a marker comment.
func (m *Migration) Apply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error {
	for _, op := range m.Operations {
		if collectSQL {
			if err := describe(ctx, editor, op); err != nil {
				return err
			}
			if !reducesToSQL(op) {
				if err := editor.Execute(ctx, "-- MIGRATION NOW PERFORMS OPERATION THAT CANNOT BE WRITTEN AS SQL"); err != nil {
					return err
				}
				op.StateForwards(state)
				continue
			}
		}
		if err := op.Forwards(ctx, editor, state); err != nil {
			return err
		}
		op.StateForwards(state)
	}
	return nil
}

// Unapply reverts the operations in reverse order
func (m *Migration) Unapply(ctx context.Context, state *ProjectState, editor SchemaEditor, collectSQL bool) error {
	for i := len(m.Operations) - 1; i >= 0; i-- {
		op := m.Operations[i]
		if collectSQL {
			if err := describe(ctx, editor, op); err != nil {
				return err
			}
			if !reducesToSQL(op) {
				if err := editor.Execute(ctx, "-- MIGRATION NOW PERFORMS OPERATION THAT CANNOT BE WRITTEN AS SQL"); err != nil {
					return err
				}
				continue
			}
		}
		if err := op.Backwards(ctx, editor, state); err != nil {
			return err
		}
	}
	return nil
}

func describe(ctx context.Context, editor SchemaEditor, op Operation) error {
	for _, line := range []string{"--", "-- " + op.Describe(), "--"} {
		if err := editor.Execute(ctx, line); err != nil {
			return err
		}
	}
	return nil
}
