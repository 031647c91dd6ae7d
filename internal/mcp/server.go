package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ksred/schema-tenancy/internal/tenancy"
	"github.com/ksred/schema-tenancy/internal/utils"
)

const (
	serverName    = "schema-tenancy"
	serverVersion = "1.0.0"
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server wraps the MCP server with our application logic
type Server struct {
	mcpServer *server.MCPServer
	handler   *Handler
	logger    zerolog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(stack *tenancy.Stack, logger zerolog.Logger) (*Server, error) {
	if stack == nil || stack.Service == nil || stack.Runner == nil {
		return nil, fmt.Errorf("tenancy stack is not initialized")
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		handler:   NewHandler(stack.Service, stack.Runner, logger),
		logger:    logger,
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s, nil
}

// Serve serves the MCP protocol on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("MCP stdio server error")
		return err
	}
	return nil
}

// HandleMessage processes one JSON-RPC message, for transports other than stdio
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_tenant",
		mcp.WithDescription("Create a tenant with its own database schema and migrate every tenant table into it"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Lowercase identifier of the tenant, made of letters, digits or underscores"),
		),
	), s.tool("create_tenant", s.handler.HandleCreateTenant))

	s.mcpServer.AddTool(mcp.NewTool("get_tenant",
		mcp.WithDescription("Get a tenant and the schema it owns"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the tenant")),
	), s.tool("get_tenant", s.handler.HandleGetTenant))

	s.mcpServer.AddTool(mcp.NewTool("delete_tenant",
		mcp.WithDescription("Delete a tenant and drop its schema with all of its data"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the tenant")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.tool("delete_tenant", s.handler.HandleDeleteTenant))

	s.mcpServer.AddTool(mcp.NewTool("list_tenants",
		mcp.WithDescription("List every tenant in creation order"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.tool("list_tenants", s.handler.HandleListTenants))

	s.mcpServer.AddTool(mcp.NewTool("migration_status",
		mcp.WithDescription("List registered migrations and whether each has been applied"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.tool("migration_status", s.handler.HandleMigrationStatus))

	s.mcpServer.AddTool(mcp.NewTool("run_migrations",
		mcp.WithDescription("Apply every pending migration, replaying tenant migrations in each tenant schema"),
	), s.tool("run_migrations", s.handler.HandleRunMigrations))

	s.mcpServer.AddTool(mcp.NewTool("rollback_migrations",
		mcp.WithDescription("Revert the most recently applied migrations"),
		mcp.WithNumber("steps", mcp.Description("Number of migrations to revert (default: 1)"), mcp.Min(1)),
		mcp.WithDestructiveHintAnnotation(true),
	), s.tool("rollback_migrations", s.handler.HandleRollback))

	s.mcpServer.AddTool(mcp.NewTool("sql_migrate",
		mcp.WithDescription("Show the SQL a migration runs, including the schema switches around each tenant's deferred statements"),
		mcp.WithString("version", mcp.Required(), mcp.Description("Version of the migration")),
		mcp.WithBoolean("backwards", mcp.Description("Show the SQL that reverts the migration")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.tool("sql_migrate", s.handler.HandleSQLMigrate))

	s.logger.Info().Int("count", 8).Msg("Registered MCP tools")
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"tenancy://tenants",
		"Tenants",
		mcp.WithResourceDescription("Every tenant and its schema"),
		mcp.WithMIMEType("application/json"),
	), s.createTenantsResourceHandler())

	s.logger.Info().Int("count", 1).Msg("Registered MCP resources")
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt("onboard_tenant",
		mcp.WithPromptDescription("Create a tenant and check its schema is migrated"),
		mcp.WithArgument("name", mcp.RequiredArgument(), mcp.ArgumentDescription("Name of the new tenant")),
	), s.createOnboardPromptHandler())

	s.logger.Info().Int("count", 1).Msg("Registered MCP prompts")
}

// tool adapts a handler to an MCP tool. Handler errors become tool errors,
// never protocol errors.
func (s *Server) tool(name string, fn handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.Debug().Str("tool", name).Msg("MCP tool called")

		params, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
		}

		result, err := fn(ctx, params)
		if err != nil {
			return utils.ToMCPError(err), nil
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func (s *Server) createTenantsResourceHandler() server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		result, err := s.handler.HandleListTenants(ctx, nil)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      request.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func (s *Server) createOnboardPromptHandler() server.PromptHandlerFunc {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		name := request.Params.Arguments["name"]

		return &mcp.GetPromptResult{
			Description: "Onboard a tenant",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.TextContent{
						Type: "text",
						Text: fmt.Sprintf("Create the tenant %q with create_tenant, then call migration_status and confirm no migration is pending.", name),
					},
				},
			},
		}, nil
	}
}
