package main

import (
	"github.com/spf13/cobra"

	migrator "github.com/aatuh/schemamigrator"
	"github.com/aatuh/schemamigrator/internal/cli"
)

var (
	upTarget string
	upDryRun bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Apply pending migrations in identity order, each in its own transaction.
Migrations already recorded in the history table are skipped.`,
	Example: `  # Apply everything pending
  schemamig up --db postgres://localhost/voting

  # Apply up to and including one migration
  schemamig up --to 20230412093000ManualEndResultRequired

  # Print the SQL without applying it
  schemamig up --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, closeFn, err := openMigrator(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		target := migrator.ID(upTarget)
		if upDryRun {
			plan, err := m.Plan(ctx, migrator.Up, target)
			if err != nil {
				return cli.MigrationError("planning migrations", err)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		}

		res, err := m.MigrateUp(ctx, target)
		printResult(cmd.OutOrStdout(), res)
		if err != nil {
			return cli.MigrationError("migrate up", err)
		}
		return nil
	},
}

func init() {
	f := upCmd.Flags()
	f.StringVar(&upTarget, "to", "", "identity to migrate up to (default: newest)")
	f.BoolVar(&upDryRun, "dry-run", false, "print the SQL without applying it")
}
