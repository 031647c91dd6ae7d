package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/schema-tenancy/internal/models"
	"github.com/ksred/schema-tenancy/internal/utils"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateTenantRequest is the body of POST /tenants
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// TenantResponse describes a tenant and the tables in its schema
type TenantResponse struct {
	Tenant *models.Tenant `json:"tenant"`
	Tables []string       `json:"tables,omitempty"`
}

// ListTenantsResponse is the body of GET /tenants
type ListTenantsResponse struct {
	Tenants []models.Tenant `json:"tenants"`
	Count   int             `json:"count"`
}

// TokenRequest exchanges the admin API key for a token
type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// TokenResponse carries a signed token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: utils.PublicMessage(err)})
}

// tokenHandler godoc
// @Summary Issue a token
// @Description Exchange the admin API key for a signed bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Admin API key"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/token [post]
func (s *Server) tokenHandler(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.auth.ValidateAPIKey(req.APIKey); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid API key"})
		return
	}

	token, expiresAt, err := s.auth.IssueToken(adminSubject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt.UTC().Format(time.RFC3339)})
}

// listTenantsHandler godoc
// @Summary List tenants
// @Description Get every tenant in creation order
// @Tags tenants
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ListTenantsResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /tenants [get]
func (s *Server) listTenantsHandler(c *gin.Context) {
	tenants, err := s.stack.Service.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	c.JSON(http.StatusOK, ListTenantsResponse{Tenants: tenants, Count: len(tenants)})
}

// createTenantHandler godoc
// @Summary Create a tenant
// @Description Create a tenant with its schema and migrate the schema
// @Tags tenants
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body CreateTenantRequest true "Tenant details"
// @Success 201 {object} TenantResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /tenants [post]
func (s *Server) createTenantHandler(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	tenant, err := s.stack.Service.Create(c.Request.Context(), req.Name)
	if err != nil {
		s.writeError(c, err)
		return
	}

	tables := s.stack.Service.Tables(tenant.SchemaName())
	c.JSON(http.StatusCreated, TenantResponse{Tenant: tenant, Tables: tables})
}

// getTenantHandler godoc
// @Summary Get a tenant
// @Tags tenants
// @Produce json
// @Security ApiKeyAuth
// @Param name path string true "Tenant name"
// @Success 200 {object} TenantResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tenants/{name} [get]
func (s *Server) getTenantHandler(c *gin.Context) {
	tenant, err := s.stack.Service.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TenantResponse{Tenant: tenant})
}

// deleteTenantHandler godoc
// @Summary Delete a tenant
// @Description Drop the tenant's schema with its tables and remove the tenant
// @Tags tenants
// @Security ApiKeyAuth
// @Param name path string true "Tenant name"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /tenants/{name} [delete]
func (s *Server) deleteTenantHandler(c *gin.Context) {
	if err := s.stack.Service.Delete(c.Request.Context(), c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
