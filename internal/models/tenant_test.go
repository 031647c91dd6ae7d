package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/schema-tenancy/internal/utils"
)

func TestTenant_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tenant  Tenant
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Valid tenant",
			tenant:  Tenant{Name: "acme"},
			wantErr: false,
		},
		{
			name:    "Valid tenant with digits and underscores",
			tenant:  Tenant{Name: "acme_2"},
			wantErr: false,
		},
		{
			name:    "Blank name",
			tenant:  Tenant{Name: ""},
			wantErr: true,
			errMsg:  `Invalid value for field "name": This field cannot be blank.`,
		},
		{
			name:    "Uppercase name",
			tenant:  Tenant{Name: "Acme"},
			wantErr: true,
			errMsg:  "lowercase identifier",
		},
		{
			name:    "Leading digit",
			tenant:  Tenant{Name: "1acme"},
			wantErr: true,
			errMsg:  "lowercase identifier",
		},
		{
			name:    "Quote in name",
			tenant:  Tenant{Name: `acme"; drop`},
			wantErr: true,
			errMsg:  "lowercase identifier",
		},
		{
			name:    "Too long",
			tenant:  Tenant{Name: strings.Repeat("a", MaxNameLength+1)},
			wantErr: true,
			errMsg:  "at most 50 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tenant.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTenant_BlankNameUnwraps(t *testing.T) {
	err := (&Tenant{}).Validate()

	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "name", fieldErr.Field)
	assert.True(t, errors.Is(err, ErrBlankField))
	assert.True(t, utils.IsValidationError(err))
}

func TestTenant_TableName(t *testing.T) {
	assert.Equal(t, "tenants", Tenant{}.TableName())
}

func TestNewTenant_SchemaDerivation(t *testing.T) {
	assert.Equal(t, "tenant_acme", NewTenant("acme", "").SchemaName())
	assert.Equal(t, "org_acme", NewTenant("acme", "org_").SchemaName())

	// Same name, same schema
	assert.Equal(t, NewTenant("acme", "").DBSchema, NewTenant("acme", "").DBSchema)
	assert.NotEqual(t, NewTenant("acme", "").DBSchema, NewTenant("acme_b", "").DBSchema)
}

func TestTenant_BeforeCreate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Tenant{}))

	t.Run("Derives schema on create", func(t *testing.T) {
		tenant := &Tenant{Name: "tenant"}
		require.NoError(t, db.Create(tenant).Error)

		var stored Tenant
		require.NoError(t, db.Where("name = ?", "tenant").First(&stored).Error)
		assert.Equal(t, "tenant_tenant", stored.DBSchema)
		assert.NotZero(t, stored.ID)
	})

	t.Run("Rejects blank name", func(t *testing.T) {
		err := db.Create(&Tenant{}).Error
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBlankField))
	})

	t.Run("Rejects duplicate name", func(t *testing.T) {
		require.NoError(t, db.Create(&Tenant{Name: "dup"}).Error)
		assert.Error(t, db.Create(&Tenant{Name: "dup"}).Error)
	})
}
