package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatuh/schemamigrator/internal/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the newest applied migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, closeFn, err := openMigrator(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		v, err := m.Version(ctx)
		if err != nil {
			return cli.MigrationError("reading version", err)
		}
		if v == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(none)")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}
