package router

import (
	"github.com/ksred/schema-tenancy/internal/registry"
)

// Router decides whether a model may be migrated on a database alias
type Router interface {
	AllowMigrate(db string, model *registry.Model) bool
}

// TenancyRouter controls migrations of tenant scoped models
type TenancyRouter struct{}

// AllowMigrate denies the root template of a tenant scoped family, which never
// holds rows, and allows its per tenant variants and every other model
func (TenancyRouter) AllowMigrate(db string, model *registry.Model) bool {
	if model.TenantScoped && model.IsRoot() {
		return false
	}
	return true
}

// Chain combines routers; every router must allow the migration
type Chain []Router

// AllowMigrate implements Router
func (c Chain) AllowMigrate(db string, model *registry.Model) bool {
	for _, r := range c {
		if !r.AllowMigrate(db, model) {
			return false
		}
	}
	return true
}

// AllowedDatabases returns the aliases, in order, on which model may be migrated
func AllowedDatabases(r Router, aliases []string, model *registry.Model) []string {
	var allowed []string
	for _, alias := range aliases {
		if r.AllowMigrate(alias, model) {
			allowed = append(allowed, alias)
		}
	}
	return allowed
}
