package migrate

import (
	"context"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/registry"
	"github.com/ksred/schema-tenancy/internal/router"
)

// SchemaEditor runs schema statements for one migration session
type SchemaEditor interface {
	// Execute runs a statement immediately
	Execute(ctx context.Context, statement string) error
	// Deferred is the queue flushed after every immediate statement
	Deferred() *DeferredSQL
	// QuoteName quotes an identifier for the backend
	QuoteName(name string) string
	// AllowMigrate reports whether the routers let model be migrated here
	AllowMigrate(model *registry.Model) bool
}

// Editor is a SchemaEditor backed by a GORM connection. In collect mode it
// records statements instead of running them.
type Editor struct {
	db        *gorm.DB
	alias     string
	router    router.Router
	collect   bool
	collected []string
	deferred  DeferredSQL
	logger    zerolog.Logger
}

// EditorOption configures an Editor
type EditorOption func(*Editor)

// WithAlias sets the database alias reported to routers
func WithAlias(alias string) EditorOption {
	return func(e *Editor) {
		e.alias = alias
	}
}

// WithRouter sets the router consulted by AllowMigrate
func WithRouter(r router.Router) EditorOption {
	return func(e *Editor) {
		e.router = r
	}
}

// Collecting records statements instead of executing them
func Collecting() EditorOption {
	return func(e *Editor) {
		e.collect = true
	}
}

// NewEditor creates an editor on db
func NewEditor(db *gorm.DB, logger zerolog.Logger, opts ...EditorOption) *Editor {
	e := &Editor{
		db:     db,
		alias:  "default",
		router: router.TenancyRouter{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements SchemaEditor. Errors from the connection are returned
// as they are.
func (e *Editor) Execute(ctx context.Context, statement string) error {
	e.logger.Debug().Str("sql", statement).Bool("collect", e.collect).Msg("Schema statement")

	if e.collect {
		e.collected = append(e.collected, statement)
		return nil
	}
	return e.db.WithContext(ctx).Exec(statement).Error
}

// Deferred implements SchemaEditor
func (e *Editor) Deferred() *DeferredSQL {
	return &e.deferred
}

// QuoteName implements SchemaEditor
func (e *Editor) QuoteName(name string) string {
	return pq.QuoteIdentifier(name)
}

// AllowMigrate implements SchemaEditor
func (e *Editor) AllowMigrate(model *registry.Model) bool {
	if e.router == nil {
		return true
	}
	return e.router.AllowMigrate(e.alias, model)
}

// Flush executes the deferred queue in order and empties it
func (e *Editor) Flush(ctx context.Context) error {
	for i, statement := range e.deferred.Statements() {
		if err := e.Execute(ctx, statement); err != nil {
			e.logger.Error().Err(err).Int("index", i).Msg("Deferred statement failed")
			return err
		}
	}
	e.deferred.Reset()
	return nil
}

// Collected returns the statements recorded in collect mode
func (e *Editor) Collected() []string {
	out := make([]string, len(e.collected))
	copy(out, e.collected)
	return out
}

// Alias returns the database alias of the editor
func (e *Editor) Alias() string {
	return e.alias
}
