package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatuh/schemamigrator/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long: `List every registered migration and whether it is applied.
Status never creates the history table and takes no lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, closeFn, err := openMigrator(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		units, statusErr := m.Status(ctx)
		if statusErr != nil && units == nil {
			return cli.MigrationError("reading status", statusErr)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tSTATE\tAPPLIED AT\tNOTE")
		pending := 0
		for _, u := range units {
			state, at := "pending", "-"
			switch {
			case u.Unregistered:
				state = "unknown"
				at = u.AppliedAt.UTC().Format(time.RFC3339)
			case u.Applied:
				state = "applied"
				at = u.AppliedAt.UTC().Format(time.RFC3339)
			default:
				pending++
			}
			note := u.Description
			if u.NonTransactional {
				note = strings.TrimSpace("NON-ATOMIC " + note)
			}
			if u.Unregistered {
				note = "not in registry"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, state, at, note)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if statusErr != nil {
			return cli.MigrationError("reading status", statusErr)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d migration(s), %d pending\n", len(units), pending)
		}
		return nil
	},
}
