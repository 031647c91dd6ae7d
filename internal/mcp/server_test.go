package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/schema-tenancy/internal/config"
	"github.com/ksred/schema-tenancy/internal/tenancy"
)

func setupTestServer(t *testing.T) (*Server, *tenancy.Stack) {
	s, stack, _ := setupTestServerDB(t)
	return s, stack
}

func setupTestServerDB(t *testing.T) (*Server, *tenancy.Stack, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	stack, err := tenancy.Setup(context.Background(), db, config.NewDefault().Tenancy, zerolog.Nop())
	require.NoError(t, err)

	s, err := NewServer(stack, zerolog.Nop())
	require.NoError(t, err)
	return s, stack, db
}

func callTool(t *testing.T, s *Server, name string, fn handlerFunc, args map[string]interface{}) (string, bool) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.tool(name, fn)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestNewServer_RequiresStack(t *testing.T) {
	_, err := NewServer(nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewServer(&tenancy.Stack{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestServer_TenantTools(t *testing.T) {
	s, _ := setupTestServer(t)

	text, isErr := callTool(t, s, "create_tenant", s.handler.HandleCreateTenant, map[string]interface{}{"name": "acme"})
	require.False(t, isErr, text)

	var created TenantResponse
	require.NoError(t, json.Unmarshal([]byte(text), &created))
	assert.True(t, created.Success)
	require.NotNil(t, created.Tenant)
	assert.Equal(t, "tenant_acme", created.Tenant.DBSchema)
	assert.Equal(t, []string{"tenant_acme_memories", "tenant_acme_profiles"}, created.Tables)

	text, isErr = callTool(t, s, "create_tenant", s.handler.HandleCreateTenant, map[string]interface{}{"name": "acme"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Already exists")

	text, isErr = callTool(t, s, "create_tenant", s.handler.HandleCreateTenant, map[string]interface{}{})
	assert.True(t, isErr)
	assert.Equal(t, `Invalid parameters: Invalid value for field "name": This field cannot be blank.`, text)

	text, isErr = callTool(t, s, "get_tenant", s.handler.HandleGetTenant, map[string]interface{}{"name": "acme"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"db_schema":"tenant_acme"`)

	text, isErr = callTool(t, s, "list_tenants", s.handler.HandleListTenants, nil)
	require.False(t, isErr, text)
	var list ListTenantsResponse
	require.NoError(t, json.Unmarshal([]byte(text), &list))
	assert.Equal(t, 1, list.Count)

	text, isErr = callTool(t, s, "delete_tenant", s.handler.HandleDeleteTenant, map[string]interface{}{"name": "acme"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Tenant acme deleted")

	text, isErr = callTool(t, s, "delete_tenant", s.handler.HandleDeleteTenant, map[string]interface{}{"name": "acme"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Not found")

	_, isErr = callTool(t, s, "delete_tenant", s.handler.HandleDeleteTenant, map[string]interface{}{})
	assert.True(t, isErr)
}

func TestServer_MigrationTools(t *testing.T) {
	s, _ := setupTestServer(t)

	text, isErr := callTool(t, s, "migration_status", s.handler.HandleMigrationStatus, nil)
	require.False(t, isErr, text)
	var status MigrationStatusResponse
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Len(t, status.Migrations, 3)
	assert.Equal(t, 3, status.Pending)

	text, isErr = callTool(t, s, "run_migrations", s.handler.HandleRunMigrations, nil)
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Equal(t, 0, status.Pending)

	text, isErr = callTool(t, s, "rollback_migrations", s.handler.HandleRollback, map[string]interface{}{"steps": 2})
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Equal(t, 2, status.Pending)

	text, isErr = callTool(t, s, "rollback_migrations", s.handler.HandleRollback, map[string]interface{}{"steps": -1})
	assert.True(t, isErr)
	assert.Contains(t, text, "must be positive")
}

func TestServer_RunMigrationsHidesSQL(t *testing.T) {
	s, stack, db := setupTestServerDB(t)

	_, err := stack.Service.Create(context.Background(), "acme")
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE tenant_acme_memories (id integer PRIMARY KEY)").Error)

	text, isErr := callTool(t, s, "run_migrations", s.handler.HandleRunMigrations, nil)
	assert.True(t, isErr)
	assert.Equal(t, "Internal server error: run migrations", text)
}

func TestServer_SQLMigrate(t *testing.T) {
	s, stack := setupTestServer(t)
	_, err := stack.Service.Create(context.Background(), "acme")
	require.NoError(t, err)

	text, isErr := callTool(t, s, "sql_migrate", s.handler.HandleSQLMigrate, map[string]interface{}{"version": "20250101_002"})
	require.False(t, isErr, text)

	var resp SQLMigrateResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.False(t, resp.Backwards)
	assert.Contains(t, resp.Statements, "-- Add field update_key to memory")

	text, isErr = callTool(t, s, "sql_migrate", s.handler.HandleSQLMigrate, map[string]interface{}{"version": "nope"})
	assert.True(t, isErr)
	assert.Equal(t, "Not found: migration with ID 'nope' not found", text)

	_, isErr = callTool(t, s, "sql_migrate", s.handler.HandleSQLMigrate, map[string]interface{}{})
	assert.True(t, isErr)
}

func TestServer_HandleMessage(t *testing.T) {
	s, _ := setupTestServer(t)

	response := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NotNil(t, response)

	data, err := json.Marshal(response)
	require.NoError(t, err)
	for _, name := range []string{"create_tenant", "delete_tenant", "list_tenants", "migration_status", "sql_migrate"} {
		assert.Contains(t, string(data), name)
	}
}

func TestResponse(t *testing.T) {
	ok := NewSuccessResponse("Tenant acme deleted", nil)
	data, err := ok.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"Tenant acme deleted"}`, string(data))

	failed := NewErrorResponse("boom")
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
}
