package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ksred/schema-tenancy/internal/registry"
)

type denyAlias string

func (d denyAlias) AllowMigrate(db string, _ *registry.Model) bool {
	return db != string(d)
}

func TestTenancyRouter_AllowMigrate(t *testing.T) {
	root := &registry.Model{App: "memories", Name: "memory", Table: "memories", TenantScoped: true}
	variant := root.Specialize("tenant_acme", registry.SchemaLayout)
	unrelated := &registry.Model{App: "tenancy", Name: "tenant", Table: "tenants"}

	r := TenancyRouter{}
	assert.False(t, r.AllowMigrate("default", root))
	assert.True(t, r.AllowMigrate("default", variant))
	assert.True(t, r.AllowMigrate("default", unrelated))
}

func TestChain_AllowMigrate(t *testing.T) {
	model := &registry.Model{App: "tenancy", Name: "tenant"}
	chain := Chain{TenancyRouter{}, denyAlias("replica")}

	assert.True(t, chain.AllowMigrate("default", model))
	assert.False(t, chain.AllowMigrate("replica", model))
	assert.True(t, Chain{}.AllowMigrate("default", model))
}

func TestAllowedDatabases(t *testing.T) {
	root := &registry.Model{App: "memories", Name: "memory", TenantScoped: true}
	variant := root.Specialize("tenant_acme", registry.SchemaLayout)
	aliases := []string{"default", "replica", "archive"}
	chain := Chain{TenancyRouter{}, denyAlias("replica")}

	assert.Empty(t, AllowedDatabases(chain, aliases, root))
	assert.Equal(t, []string{"default", "archive"}, AllowedDatabases(chain, aliases, variant))
}
