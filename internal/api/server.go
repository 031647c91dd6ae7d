package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ksred/schema-tenancy/internal/config"
	"github.com/ksred/schema-tenancy/internal/database"
	"github.com/ksred/schema-tenancy/internal/mcp"
	"github.com/ksred/schema-tenancy/internal/tenancy"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	db         *database.Database
	stack      *tenancy.Stack
	auth       *Authenticator
	mcp        *mcp.Server
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer builds the HTTP API on top of the tenancy stack. mcpServer may be
// nil, which disables the MCP endpoint.
func NewServer(cfg *config.Config, db *database.Database, stack *tenancy.Stack, mcpServer *mcp.Server, logger zerolog.Logger) (*Server, error) {
	if stack == nil || stack.Metrics == nil {
		return nil, fmt.Errorf("tenancy stack is not initialized")
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(newRequestMetrics(stack.Metrics.Registry()).middleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", "X-Requested-With"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Type"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour

	router.Use(cors.New(corsConfig))

	server := &Server{
		router: router,
		config: cfg,
		db:     db,
		stack:  stack,
		auth:   NewAuthenticator(cfg.JWT.Secret, cfg.HTTP.AdminKeyHash),
		mcp:    mcpServer,
		logger: logger,
	}

	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.stack.Metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/token", s.tokenHandler)

		protected := v1.Group("")
		protected.Use(s.authMiddleware())
		{
			tenants := protected.Group("/tenants")
			{
				tenants.GET("", s.listTenantsHandler)
				tenants.POST("", s.createTenantHandler)
				tenants.GET("/:name", s.getTenantHandler)
				tenants.DELETE("/:name", s.deleteTenantHandler)
			}

			migrations := protected.Group("/migrations")
			{
				migrations.GET("", s.migrationsHandler)
				migrations.POST("/run", s.runMigrationsHandler)
				migrations.POST("/rollback", s.rollbackHandler)
				migrations.GET("/:version/sql", s.sqlMigrateHandler)
			}

			protected.POST("/mcp", s.HandleMCP)
		}
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// tenant creation migrates a whole schema
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler godoc
// @Summary Health check
// @Description Report service and database health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := true
	var dbError string
	if s.db == nil {
		dbHealthy = false
		dbError = "database not configured"
	} else if err := s.db.Health(ctx); err != nil {
		dbHealthy = false
		dbError = err.Error()
	}

	status := "healthy"
	if !dbHealthy {
		status = "unhealthy"
	}

	response := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"database": gin.H{
			"healthy": dbHealthy,
			"error":   dbError,
		},
		"tenant_models": len(s.stack.Service.Models()),
	}

	if !dbHealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}
