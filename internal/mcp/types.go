package mcp

import (
	"encoding/json"

	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/models"
)

// CreateTenantRequest represents the request structure for creating a tenant
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// TenantNameRequest addresses an existing tenant
type TenantNameRequest struct {
	Name string `json:"name"`
}

// RollbackRequest represents the request structure for rolling back migrations
type RollbackRequest struct {
	Steps int `json:"steps,omitempty"`
}

// SQLMigrateRequest represents the request structure for printing a migration's SQL
type SQLMigrateRequest struct {
	Version   string `json:"version"`
	Backwards bool   `json:"backwards,omitempty"`
}

// TenantResponse represents the response after creating or fetching a tenant
type TenantResponse struct {
	Success bool           `json:"success"`
	Tenant  *models.Tenant `json:"tenant,omitempty"`
	Tables  []string       `json:"tables,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ListTenantsResponse represents the response after listing tenants
type ListTenantsResponse struct {
	Tenants []models.Tenant `json:"tenants"`
	Count   int             `json:"count"`
}

// MigrationStatusResponse lists every registered migration and whether it ran
type MigrationStatusResponse struct {
	Migrations []migrate.Status `json:"migrations"`
	Pending    int              `json:"pending"`
}

// SQLMigrateResponse holds the statements a migration would run
type SQLMigrateResponse struct {
	Version    string   `json:"version"`
	Backwards  bool     `json:"backwards"`
	Statements []string `json:"statements"`
}

// Response represents a standard response for operations without a payload
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(message string, data interface{}) *Response {
	return &Response{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// ToJSON converts the response to JSON
func (r *Response) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
