package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/schema-tenancy/internal/utils"
)

// DefaultSchemaPrefix is prepended to a tenant name to build its schema name
const DefaultSchemaPrefix = "tenant_"

// MaxNameLength keeps derived schema names under PostgreSQL's 63 byte identifier limit
const MaxNameLength = 50

var tenantNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrBlankField is returned when a required tenant field is empty
var ErrBlankField = errors.New("This field cannot be blank.")

// Tenant is one isolated namespace sharing the database
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:50" json:"name"`
	DBSchema  string    `gorm:"column:db_schema;uniqueIndex;not null;size:63" json:"db_schema"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	schemaPrefix string `gorm:"-"`
}

// TenantFields lists the fields a tenant is created from, in positional order
var TenantFields = []string{"name"}

// TableName ensures consistent table naming
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant builds a tenant with its schema derived from the given prefix
func NewTenant(name, schemaPrefix string) *Tenant {
	t := &Tenant{Name: name, schemaPrefix: schemaPrefix}
	t.DBSchema = t.deriveSchema()
	return t
}

// SchemaName returns the private schema of the tenant
func (t *Tenant) SchemaName() string {
	return t.DBSchema
}

// FieldError describes an invalid tenant field
type FieldError struct {
	Field string
	Cause error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("Invalid value for field %q: %v", e.Field, e.Cause)
}

func (e *FieldError) Unwrap() error {
	return e.Cause
}

// Is makes every field error a validation error
func (e *FieldError) Is(target error) bool {
	return target == utils.ErrValidation
}

// Validate checks the tenant name can be turned into a schema name
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return &FieldError{Field: "name", Cause: ErrBlankField}
	}
	if len(t.Name) > MaxNameLength {
		return &FieldError{
			Field: "name",
			Cause: fmt.Errorf("Ensure this value has at most %d characters (it has %d).", MaxNameLength, len(t.Name)),
		}
	}
	if !tenantNamePattern.MatchString(t.Name) {
		return &FieldError{
			Field: "name",
			Cause: errors.New("Enter a lowercase identifier made of letters, digits or underscores."),
		}
	}
	return nil
}

// BeforeCreate validates the tenant and derives its schema
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.DBSchema == "" {
		t.DBSchema = t.deriveSchema()
	}
	return nil
}

func (t *Tenant) deriveSchema() string {
	prefix := t.schemaPrefix
	if prefix == "" {
		prefix = DefaultSchemaPrefix
	}
	return prefix + t.Name
}
