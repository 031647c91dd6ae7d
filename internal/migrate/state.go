package migrate

import (
	"sort"

	"github.com/ksred/schema-tenancy/internal/registry"
)

// ModelState is what the migrations applied so far say about one model
type ModelState struct {
	App          string
	Name         string
	Table        string
	Fields       []string
	TenantScoped bool
}

func (m *ModelState) hasField(name string) bool {
	for _, f := range m.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// ProjectState tracks the models built by applied migrations. Forwarding the
// state is idempotent, so a migration replayed once per tenant leaves the same
// state as a single application.
type ProjectState struct {
	models map[string]*ModelState
	tenant string
	layout registry.Layout
}

// NewProjectState returns an empty state
func NewProjectState() *ProjectState {
	return &ProjectState{models: make(map[string]*ModelState)}
}

// ForTenant returns a view of the state bound to a tenant schema. The view
// shares the tracked models with s.
func (s *ProjectState) ForTenant(schema string) *ProjectState {
	return &ProjectState{models: s.models, tenant: schema, layout: s.layout}
}

// WithLayout sets the layout tenant variants are resolved with and returns s
func (s *ProjectState) WithLayout(layout registry.Layout) *ProjectState {
	s.layout = layout
	return s
}

// Tenant returns the tenant schema the view is bound to, empty for shared
func (s *ProjectState) Tenant() string {
	return s.tenant
}

// Resolve returns the model an operation acts on in this view: the tenant's
// variant of a tenant scoped model, the model itself otherwise
func (s *ProjectState) Resolve(m *registry.Model) *registry.Model {
	if s.tenant != "" && m.TenantScoped {
		return m.Specialize(s.tenant, s.layout)
	}
	return m
}

// Model returns the tracked state of app.name
func (s *ProjectState) Model(app, name string) (*ModelState, bool) {
	m, ok := s.models[app+"."+name]
	return m, ok
}

// Labels returns the tracked model labels, sorted
func (s *ProjectState) Labels() []string {
	labels := make([]string, 0, len(s.models))
	for label := range s.models {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (s *ProjectState) addModel(m *registry.Model) {
	root := m.Template()
	state := &ModelState{
		App:          root.App,
		Name:         root.Name,
		Table:        root.Table,
		TenantScoped: root.TenantScoped,
	}
	for _, f := range root.Fields {
		state.Fields = append(state.Fields, f.Name)
	}
	for _, r := range root.Relations {
		if col := r.Column(); col != "" {
			state.Fields = append(state.Fields, col)
		}
	}
	s.models[root.Label()] = state
}

func (s *ProjectState) removeModel(m *registry.Model) {
	delete(s.models, m.Template().Label())
}

func (s *ProjectState) addField(m *registry.Model, field string) {
	state, ok := s.models[m.Template().Label()]
	if !ok || state.hasField(field) {
		return
	}
	state.Fields = append(state.Fields, field)
}

func (s *ProjectState) removeField(m *registry.Model, field string) {
	state, ok := s.models[m.Template().Label()]
	if !ok {
		return
	}
	for i, f := range state.Fields {
		if f == field {
			state.Fields = append(state.Fields[:i], state.Fields[i+1:]...)
			return
		}
	}
}
