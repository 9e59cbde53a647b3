package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatuh/schemamigrator/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string

	// Persistent flags
	cfgFile       string
	dbURL         string
	dbDriver      string
	migrationsDir string
	builtin       bool
	verbose       int
	quiet         bool
)

var rootCmd = &cobra.Command{
	Use:   "schemamig",
	Short: "Versioned schema migrations",
	Long: `schemamig - versioned schema migrations

schemamig applies and reverts ordered migration units against PostgreSQL or
SQLite. Each unit runs in its own transaction and is recorded in a history
table, so repeated runs only apply what is pending.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs
const (
	groupMigrate = "migrate"
	groupUtility = "utility"
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default: auto-discover schemamig.yaml)")
	f.StringVar(&dbURL, "db", "", "database URL or SQLite file (default: database.url)")
	f.StringVar(&dbDriver, "driver", "", "database/sql driver: pgx, postgres or sqlite (default: database.driver)")
	f.StringVar(&migrationsDir, "dir", "", "migrations directory (default: migrations.dir)")
	f.BoolVar(&builtin, "builtin", false, "use the compiled-in reference migrations")
	f.CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	f.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMigrate, Title: "Migrations:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	upCmd.GroupID = groupMigrate
	downCmd.GroupID = groupMigrate
	statusCmd.GroupID = groupMigrate
	versionCmd.GroupID = groupMigrate
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	configCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command. An interrupt cancels the run, which rolls
// back the unit in flight.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
