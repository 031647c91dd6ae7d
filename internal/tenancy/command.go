package tenancy

import (
	"context"
	"fmt"
	"io"
)

// CreateTenantCommand creates a tenant from positional arguments mapped onto
// the tenant's declared fields
type CreateTenantCommand struct {
	Service *Service
	Out     io.Writer
}

// Run creates the tenant. With verbosity 1 or more it reports the schema and
// then every tenant table it now owns.
func (c *CreateTenantCommand) Run(ctx context.Context, args []string, verbosity int) error {
	tenant, err := c.Service.Create(ctx, args...)
	if err != nil {
		return err
	}

	if verbosity < 1 || c.Out == nil {
		return nil
	}

	fmt.Fprintf(c.Out, "Created schema %s for tenant %s\n", tenant.SchemaName(), tenant.Name)
	for _, v := range c.Service.Variants(tenant.SchemaName()) {
		fmt.Fprintf(c.Out, "Created table %s (%s)\n", v.Table, v.Template().Label())
	}
	return nil
}
