package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ksred/schema-tenancy/internal/migrate"
	"github.com/ksred/schema-tenancy/internal/tenancy"
)

type stackOpener func(ctx context.Context, configPath string) (*tenancy.Stack, func(), error)

type app struct {
	configPath string
	out        io.Writer
	open       stackOpener
}

// withStack opens the stack for the duration of fn
func (a *app) withStack(cmd *cobra.Command, fn func(ctx context.Context, stack *tenancy.Stack) error) error {
	ctx := cmd.Context()
	stack, closeFn, err := a.open(ctx, a.configPath)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, stack)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "manage",
		Short:         "Manage tenants and their schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file")
	root.SetOut(a.out)

	root.AddCommand(
		newMigrateCmd(a),
		newRollbackCmd(a),
		newSQLMigrateCmd(a),
		newStatusCmd(a),
		newCreateTenantCmd(a),
		newDeleteTenantCmd(a),
		newListTenantsCmd(a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations to the shared schema and every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				pending, err := stack.Runner.Pending(ctx)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(a.out, "No migrations to apply.")
					return nil
				}
				if err := stack.Runner.Run(ctx); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Applied %d migration(s).\n", len(pending))
				return nil
			})
		},
	}
}

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [n]",
		Short: "Unapply the last n applied migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("rollback steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				if err := stack.Runner.Rollback(ctx, steps); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Rolled back %d migration(s).\n", steps)
				return nil
			})
		},
	}
}

func newSQLMigrateCmd(a *app) *cobra.Command {
	var backwards bool
	cmd := &cobra.Command{
		Use:   "sqlmigrate <version>",
		Short: "Print the SQL a migration runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				statements, err := stack.Runner.SQL(ctx, args[0], backwards)
				if errors.Is(err, migrate.ErrUnknownMigration) {
					return fmt.Errorf("cannot find a migration matching %q", args[0])
				}
				if err != nil {
					return err
				}
				for _, stmt := range statements {
					fmt.Fprintln(a.out, stmt)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&backwards, "backwards", false, "Print the SQL that unapplies the migration")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				statuses, err := stack.Runner.Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				for _, st := range statuses {
					mark := "[ ]"
					if st.Applied {
						mark = "[X]"
					}
					scope := "shared"
					if st.Tenant {
						scope = "tenant"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, st.Version, st.Name, scope)
				}
				return w.Flush()
			})
		},
	}
}

func newCreateTenantCmd(a *app) *cobra.Command {
	var verbosity int
	cmd := &cobra.Command{
		Use:   "create-tenant <fields...>",
		Short: "Create a tenant, its schema and its tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				c := &tenancy.CreateTenantCommand{Service: stack.Service, Out: a.out}
				return c.Run(ctx, args, verbosity)
			})
		},
	}
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 1, "Verbosity level; 0 is silent")
	return cmd
}

func newDeleteTenantCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-tenant <name>",
		Short: "Drop a tenant's schema and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				if err := stack.Service.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted tenant %s\n", args[0])
				return nil
			})
		},
	}
}

func newListTenantsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tenants",
		Short: "List tenants and their schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStack(cmd, func(ctx context.Context, stack *tenancy.Stack) error {
				tenants, err := stack.Service.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				for _, t := range tenants {
					fmt.Fprintf(w, "%s\t%s\n", t.Name, t.SchemaName())
				}
				return w.Flush()
			})
		},
	}
}
