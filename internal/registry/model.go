package registry

import (
	"fmt"
	"strings"
)

// RelationKind is the cardinality of a relation between models
type RelationKind int

const (
	ForeignKey RelationKind = iota
	OneToOne
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case ForeignKey:
		return "foreign_key"
	case OneToOne:
		return "one_to_one"
	case ManyToMany:
		return "many_to_many"
	default:
		return fmt.Sprintf("relation(%d)", int(k))
	}
}

// Field is a concrete column of a model
type Field struct {
	Name       string
	Type       string
	PrimaryKey bool
	Null       bool
	Unique     bool
	Index      bool
	Default    string
}

// Column returns the column name of the field
func (f Field) Column() string {
	return f.Name
}

// Relation points from its owner model to another model
type Relation struct {
	Name        string
	Kind        RelationKind
	To          *Model
	RelatedName string

	owner  *Model
	target *Model
}

// Hidden reports whether the relation asked for no reverse accessor
func (r *Relation) Hidden() bool {
	return strings.HasSuffix(r.RelatedName, "+")
}

// Column is the local column holding the related key. Many to many relations
// live in a join table and have no local column.
func (r *Relation) Column() string {
	if r.Kind == ManyToMany {
		return ""
	}
	return r.Name + "_id"
}

// AccessorName is the reverse accessor added on the target model
func (r *Relation) AccessorName(owner *Model) string {
	if r.RelatedName != "" && !r.Hidden() {
		return r.RelatedName
	}
	base := owner.family().Name
	if r.Kind == OneToOne {
		return base
	}
	return base + "_set"
}

// AddsAccessor reports whether registering the relation adds an accessor on
// its target. One to one relations always add one, even when hidden.
func (r *Relation) AddsAccessor() bool {
	return !r.Hidden() || r.Kind == OneToOne
}

// Owner returns the model declaring the relation
func (r *Relation) Owner() *Model {
	return r.owner
}

// Target returns the model the relation was resolved to on registration,
// falling back to the declared target
func (r *Relation) Target() *Model {
	if r.target != nil {
		return r.target
	}
	return r.To
}

// VirtualField is a relation that has no column, like a generic relation
type VirtualField struct {
	Name    string
	Generic bool
	To      *Model
}

// Layout is how the variants of a tenant scoped model keep their tables apart
type Layout int

const (
	// SchemaLayout gives each tenant a schema. Variants keep the root's table
	// names and the tenant's search path decides which schema they resolve in.
	SchemaLayout Layout = iota
	// PrefixLayout keeps every tenant in one namespace. Variant tables and
	// indexes are prefixed with the tenant schema.
	PrefixLayout
)

func (l Layout) String() string {
	if l == PrefixLayout {
		return "prefix"
	}
	return "schema"
}

// LayoutFor returns the layout a GORM dialect supports. Only PostgreSQL has
// schemas.
func LayoutFor(dialect string) Layout {
	if dialect == "postgres" {
		return SchemaLayout
	}
	return PrefixLayout
}

// Model describes a model known to the registry.
//
// A tenant scoped model is declared once as a root template. Per tenant
// variants are built with Specialize; their table name depends on the layout.
type Model struct {
	App           string
	Name          string
	Table         string
	Fields        []Field
	Relations     []*Relation
	VirtualFields []VirtualField
	TenantScoped  bool

	template *Model
	tenant   string
	layout   Layout

	// guarded by the registry lock
	accessors     map[string]*Relation
	relatedCache  []*Relation
	relatedCached bool
	nameMap       map[string]string
}

// Label returns app.name
func (m *Model) Label() string {
	return m.App + "." + m.Name
}

// IsRoot reports whether the model is the unspecialized template of a tenant
// scoped family. Non tenant models are their own root.
func (m *Model) IsRoot() bool {
	return m.template == nil
}

// Template returns the root of the model's family
func (m *Model) Template() *Model {
	return m.family()
}

// Tenant returns the schema a specialized variant belongs to
func (m *Model) Tenant() string {
	return m.tenant
}

func (m *Model) family() *Model {
	if m.template != nil {
		return m.template
	}
	return m
}

// Layout returns the layout the variant was specialized with
func (m *Model) Layout() Layout {
	return m.layout
}

// Specialize builds the variant of a tenant scoped root for one tenant schema.
// It does not register the variant.
func (m *Model) Specialize(schema string, layout Layout) *Model {
	root := m.family()
	variant := &Model{
		App:          root.App,
		Name:         SpecializedName(schema, root.Name),
		Fields:       append([]Field(nil), root.Fields...),
		TenantScoped: true,
		template:     root,
		tenant:       schema,
		layout:       layout,
	}
	variant.Table = variant.Qualify(root.Table)
	for _, r := range root.Relations {
		variant.Relations = append(variant.Relations, &Relation{
			Name:        r.Name,
			Kind:        r.Kind,
			To:          r.To,
			RelatedName: r.RelatedName,
		})
	}
	variant.VirtualFields = append([]VirtualField(nil), root.VirtualFields...)
	return variant
}

// SpecializedName is the registry name of a tenant variant
func SpecializedName(schema, name string) string {
	return schema + "_" + name
}

// Qualify returns the name a table or index of the model uses in the
// database. Under the prefix layout a variant's names carry its schema.
func (m *Model) Qualify(name string) string {
	if m.layout == PrefixLayout && m.tenant != "" {
		return SpecializedName(m.tenant, name)
	}
	return name
}

// ClearRelatedCache drops the cached reverse relation indexes
func (m *Model) ClearRelatedCache() {
	m.relatedCache = nil
	m.relatedCached = false
	m.nameMap = nil
}

// RemoveVirtualFields drops generic relations pointing at a tenant root
// template; such relations can never hold rows.
func RemoveVirtualFields(m *Model) int {
	kept := m.VirtualFields[:0]
	removed := 0
	for _, vf := range m.VirtualFields {
		if vf.Generic && vf.To != nil && vf.To.TenantScoped && vf.To.IsRoot() {
			removed++
			continue
		}
		kept = append(kept, vf)
	}
	m.VirtualFields = kept
	return removed
}
