package main

import (
	"github.com/spf13/cobra"

	migrator "github.com/aatuh/schemamigrator"
	"github.com/aatuh/schemamigrator/internal/cli"
)

var (
	downTarget string
	downAll    bool
	downSteps  int
	downDryRun bool
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert applied migrations",
	Long: `Revert applied migrations newest first, each in its own transaction.
Without flags the newest applied migration is reverted.

Reverting a dropped column restores its shape, not its data.`,
	Example: `  # Revert the newest migration
  schemamig down

  # Revert the three newest migrations
  schemamig down --steps 3

  # Revert everything newer than a migration
  schemamig down --to 20230412093000ManualEndResultRequired

  # Revert everything
  schemamig down --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if downSteps < 1 {
			return cli.ConfigError("--steps must be at least 1", nil)
		}

		ctx := cmd.Context()
		m, closeFn, err := openMigrator(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		byTarget := downAll || downTarget != ""
		target := migrator.ID(downTarget)

		if downDryRun {
			var plan []migrator.PlannedUnit
			if byTarget {
				plan, err = m.Plan(ctx, migrator.Down, target)
			} else {
				plan, err = m.PlanRollback(ctx, downSteps)
			}
			if err != nil {
				return cli.MigrationError("planning migrations", err)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		}

		var res migrator.Result
		if byTarget {
			res, err = m.MigrateDown(ctx, target)
		} else {
			res, err = m.Rollback(ctx, downSteps)
		}
		printResult(cmd.OutOrStdout(), res)
		if err != nil {
			return cli.MigrationError("migrate down", err)
		}
		return nil
	},
}

func init() {
	f := downCmd.Flags()
	f.StringVar(&downTarget, "to", "", "revert every migration newer than this identity")
	f.BoolVar(&downAll, "all", false, "revert every applied migration")
	f.IntVar(&downSteps, "steps", 1, "number of migrations to revert")
	f.BoolVar(&downDryRun, "dry-run", false, "print the SQL without applying it")
	downCmd.MarkFlagsMutuallyExclusive("to", "all", "steps")
}
