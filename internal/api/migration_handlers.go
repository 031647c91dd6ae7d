package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/utils"
)

// MigrationsResponse lists the registered migrations
type MigrationsResponse struct {
	Migrations []migrate.Status `json:"migrations"`
	Pending    int              `json:"pending"`
}

// SQLResponse holds the statements a migration would run
type SQLResponse struct {
	Version    string   `json:"version"`
	Backwards  bool     `json:"backwards"`
	Statements []string `json:"statements"`
}

// migrationsHandler godoc
// @Summary List migrations
// @Description Get every registered migration with its applied state
// @Tags migrations
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} MigrationsResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /migrations [get]
func (s *Server) migrationsHandler(c *gin.Context) {
	statuses, err := s.stack.Runner.Status(c.Request.Context())
	if err != nil {
		s.writeError(c, utils.WrapDatabaseError("migration status", err))
		return
	}

	pending := 0
	for _, st := range statuses {
		if !st.Applied {
			pending++
		}
	}
	c.JSON(http.StatusOK, MigrationsResponse{Migrations: statuses, Pending: pending})
}

// runMigrationsHandler godoc
// @Summary Run migrations
// @Description Apply pending migrations to the shared schema and every tenant
// @Tags migrations
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} MigrationsResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /migrations/run [post]
func (s *Server) runMigrationsHandler(c *gin.Context) {
	if err := s.stack.Runner.Run(c.Request.Context()); err != nil {
		s.writeError(c, utils.WrapDatabaseError("run migrations", err))
		return
	}
	s.migrationsHandler(c)
}

// rollbackHandler godoc
// @Summary Roll back migrations
// @Description Unapply the last applied migrations, newest first
// @Tags migrations
// @Produce json
// @Security ApiKeyAuth
// @Param steps query int false "Number of migrations to unapply" default(1)
// @Success 200 {object} MigrationsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /migrations/rollback [post]
func (s *Server) rollbackHandler(c *gin.Context) {
	steps, err := strconv.Atoi(c.DefaultQuery("steps", "1"))
	if err != nil || steps < 1 {
		s.writeError(c, utils.InvalidFieldError("steps", "must be a positive integer"))
		return
	}

	if err := s.stack.Runner.Rollback(c.Request.Context(), steps); err != nil {
		s.writeError(c, utils.WrapDatabaseError("roll back migrations", err))
		return
	}
	s.migrationsHandler(c)
}

// sqlMigrateHandler godoc
// @Summary Show migration SQL
// @Description Get the statements a migration would run without touching the schema
// @Tags migrations
// @Produce json
// @Security ApiKeyAuth
// @Param version path string true "Migration version"
// @Param backwards query bool false "Show the statements that unapply the migration"
// @Success 200 {object} SQLResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /migrations/{version}/sql [get]
func (s *Server) sqlMigrateHandler(c *gin.Context) {
	version := c.Param("version")
	backwards, _ := strconv.ParseBool(c.DefaultQuery("backwards", "false"))

	statements, err := s.stack.Runner.SQL(c.Request.Context(), version, backwards)
	if errors.Is(err, migrate.ErrUnknownMigration) {
		s.writeError(c, utils.WrapNotFoundError("migration", version))
		return
	}
	if err != nil {
		s.writeError(c, utils.WrapDatabaseError("collect migration sql", err))
		return
	}
	c.JSON(http.StatusOK, SQLResponse{Version: version, Backwards: backwards, Statements: statements})
}
