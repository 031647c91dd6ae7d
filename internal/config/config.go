package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Database Database `json:"database" mapstructure:"database"`
	Tenancy  Tenancy  `json:"tenancy" mapstructure:"tenancy"`
	Server   Server   `json:"server" mapstructure:"server"`
	JWT      JWT      `json:"jwt" mapstructure:"jwt"`
	HTTP     HTTP     `json:"http" mapstructure:"http"`
}

// Database represents database configuration
type Database struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	Path            string        `json:"path" mapstructure:"path"`
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	User            string        `json:"user" mapstructure:"user"`
	Password        string        `json:"password" mapstructure:"password"`
	DBName          string        `json:"dbname" mapstructure:"dbname"`
	SSLMode         string        `json:"sslmode" mapstructure:"sslmode"`
	LogLevel        string        `json:"log_level" mapstructure:"log_level"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Tenancy represents multi-tenancy configuration
type Tenancy struct {
	// DefaultSchema is the shared schema tenant sessions fall back to
	DefaultSchema string `json:"default_schema" mapstructure:"default_schema"`
	// SchemaPrefix is prepended to a tenant's name to form its schema
	SchemaPrefix string `json:"schema_prefix" mapstructure:"schema_prefix"`
	// RegistryAPI selects the model registry storage: current or legacy
	RegistryAPI string `json:"registry_api" mapstructure:"registry_api"`
	LockKey     string `json:"lock_key" mapstructure:"lock_key"`
}

// Server represents server configuration
type Server struct {
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	Debug    bool   `json:"debug" mapstructure:"debug"`
}

// JWT represents JWT configuration
type JWT struct {
	Secret string `json:"secret" mapstructure:"secret"`
}

// HTTP represents HTTP server configuration
type HTTP struct {
	Port         int      `json:"port" mapstructure:"port"`
	AllowOrigins []string `json:"allow_origins" mapstructure:"allow_origins"`
	// AdminKeyHash is the bcrypt hash of the admin API key
	AdminKeyHash string `json:"admin_key_hash" mapstructure:"admin_key_hash"`
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewDefault returns a Config instance with default values
func NewDefault() *Config {
	return &Config{
		Database: Database{
			Driver:          "postgres",
			Path:            "schema_tenancy.db",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "",
			DBName:          "schema_tenancy",
			SSLMode:         "disable",
			LogLevel:        "error",
			MaxConnections:  25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 1 * time.Minute,
		},
		Tenancy: Tenancy{
			DefaultSchema: "public",
			SchemaPrefix:  "tenant_",
			RegistryAPI:   "current",
			LockKey:       "schema_tenancy_migrations",
		},
		Server: Server{
			LogLevel: "info",
			Debug:    false,
		},
		JWT: JWT{
			Secret: "change-me-in-production",
		},
		HTTP: HTTP{
			Port:         8082,
			AllowOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database port must be between 1 and 65535")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxConnections {
		return fmt.Errorf("max idle connections cannot exceed max connections")
	}

	// Tenancy validation
	if !identifierPattern.MatchString(c.Tenancy.DefaultSchema) {
		return fmt.Errorf("invalid default schema: %q", c.Tenancy.DefaultSchema)
	}
	if c.Tenancy.SchemaPrefix != "" && !identifierPattern.MatchString(c.Tenancy.SchemaPrefix) {
		return fmt.Errorf("invalid schema prefix: %q", c.Tenancy.SchemaPrefix)
	}
	if c.Tenancy.RegistryAPI != "current" && c.Tenancy.RegistryAPI != "legacy" {
		return fmt.Errorf("registry api must be current or legacy, got %q", c.Tenancy.RegistryAPI)
	}
	if c.Tenancy.LockKey == "" {
		return fmt.Errorf("migration lock key cannot be empty")
	}

	// Server validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}

	// HTTP validation
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	return nil
}

// DatabaseURL constructs a PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	params := url.Values{}
	params.Set("sslmode", c.Database.SSLMode)

	var userInfo *url.Userinfo
	if c.Database.Password == "" {
		userInfo = url.User(c.Database.User)
	} else {
		userInfo = url.UserPassword(c.Database.User, c.Database.Password)
	}

	u := &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.DBName,
		RawQuery: params.Encode(),
	}

	return u.String()
}

// DatabaseSettings returns the settings map the database connection reads
func (c *Config) DatabaseSettings() map[string]interface{} {
	return map[string]interface{}{
		"driver":             c.Database.Driver,
		"path":               c.Database.Path,
		"host":               c.Database.Host,
		"port":               c.Database.Port,
		"user":               c.Database.User,
		"password":           c.Database.Password,
		"dbname":             c.Database.DBName,
		"sslmode":            c.Database.SSLMode,
		"log_level":          c.Database.LogLevel,
		"max_open_conns":     c.Database.MaxConnections,
		"max_idle_conns":     c.Database.MaxIdleConns,
		"conn_max_lifetime":  c.Database.ConnMaxLifetime,
		"conn_max_idle_time": c.Database.ConnMaxIdleTime,
	}
}
