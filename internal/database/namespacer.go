package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Namespacer creates and drops the schema a tenant's tables live in. tables
// are the tenant's table names as the database knows them.
type Namespacer interface {
	CreateSchema(ctx context.Context, db *gorm.DB, schema string) error
	DropSchema(ctx context.Context, db *gorm.DB, schema string, tables []string) error
}

// PostgresNamespacer manages PostgreSQL schemas
type PostgresNamespacer struct{}

// CreateSchema implements Namespacer
func (PostgresNamespacer) CreateSchema(ctx context.Context, db *gorm.DB, schema string) error {
	if err := db.WithContext(ctx).Exec("CREATE SCHEMA " + pq.QuoteIdentifier(schema)).Error; err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// DropSchema implements Namespacer. Every table in the schema goes with it.
func (PostgresNamespacer) DropSchema(ctx context.Context, db *gorm.DB, schema string, _ []string) error {
	if err := db.WithContext(ctx).Exec("DROP SCHEMA IF EXISTS " + pq.QuoteIdentifier(schema) + " CASCADE").Error; err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", schema, err)
	}
	return nil
}

// TableNamespacer is used on backends without schemas, where a tenant's
// tables share one namespace under prefixed names
type TableNamespacer struct{}

// CreateSchema implements Namespacer. There is nothing to create.
func (TableNamespacer) CreateSchema(context.Context, *gorm.DB, string) error { return nil }

// DropSchema implements Namespacer by dropping the tenant's tables
func (TableNamespacer) DropSchema(ctx context.Context, db *gorm.DB, schema string, tables []string) error {
	for _, table := range tables {
		if err := db.WithContext(ctx).Exec("DROP TABLE IF EXISTS ?", clause.Table{Name: table}).Error; err != nil {
			return fmt.Errorf("failed to drop table %s of %s: %w", table, schema, err)
		}
	}
	return nil
}

// NamespacerFor picks the namespacer matching the connection's dialect
func NamespacerFor(db *gorm.DB) Namespacer {
	if db.Dialector.Name() == DriverPostgres {
		return PostgresNamespacer{}
	}
	return TableNamespacer{}
}
