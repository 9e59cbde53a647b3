package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	migrator "github.com/aatuh/schemamigrator"
	"github.com/aatuh/schemamigrator/internal/cli"
	"github.com/aatuh/schemamigrator/migrations"
)

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// driverName maps driver aliases to the names registered with database/sql.
func driverName(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql":
		return "pgx"
	case "sqlite3":
		return "sqlite"
	}
	return strings.ToLower(driver)
}

// newLogger builds the runner logger: none with --quiet, a development
// logger with -v, and a production logger otherwise.
func newLogger() (*zap.Logger, error) {
	switch {
	case quiet:
		return zap.NewNop(), nil
	case verbose > 0:
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadRegistry builds the registry from the builtin set or the migrations
// directory.
func loadRegistry() (*migrator.Registry, error) {
	var sources []migrator.MigrationSource
	if resolveBool(builtin, cfg.Migrations.Builtin) {
		sources = migrations.Source()
	} else {
		dir := resolveString(migrationsDir, cfg.Migrations.Dir)
		sources = []migrator.MigrationSource{migrator.NewDirMigrationSource(dir)}
	}
	r, err := migrator.NewRegistry(sources...)
	if err != nil {
		return nil, cli.RegistryError("loading migrations", err)
	}
	return r, nil
}

// openMigrator connects to the configured database and returns a migrator
// over the configured registry. The returned close function releases the
// connection and flushes the logger.
func openMigrator(ctx context.Context) (*migrator.Migrator, func(), error) {
	driver := resolveString(dbDriver, cfg.Database.Driver)
	dialect, err := migrator.DialectFor(driver)
	if err != nil {
		return nil, nil, cli.ConfigError("database configuration", err)
	}
	// DSN resolution reads database.driver, so a --driver flag must be
	// visible there too.
	cfg.Database.Driver = driver
	dsn, err := resolveDSN(dbURL)
	if err != nil {
		return nil, nil, err
	}

	registry, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, nil, cli.GeneralError("creating logger", err)
	}

	db, err := sql.Open(driverName(driver), dsn)
	if err != nil {
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}

	history := migrator.NewSQLHistoryStore(db, dialect).
		WithTable(cfg.History.Table).
		WithNamespace(cfg.History.Namespace)
	m := migrator.NewMigrator(db, dialect, registry).
		WithHistory(history).
		WithLockKey(resolveString(cfg.Lock.Key, migrator.DefaultLockKey)).
		WithLogger(logger)

	closeFn := func() {
		_ = logger.Sync()
		_ = db.Close()
	}
	return m, closeFn, nil
}

// printPlan writes the SQL a run would execute.
func printPlan(w io.Writer, plan []migrator.PlannedUnit) {
	if len(plan) == 0 {
		fmt.Fprintln(w, "-- nothing to do")
		return
	}
	for i, p := range plan {
		if i > 0 {
			fmt.Fprintln(w)
		}
		mode := string(p.Direction)
		if p.NonTransactional {
			mode += ", non-transactional"
		}
		fmt.Fprintf(w, "-- %s (%s)\n", p.ID, mode)
		for _, stmt := range p.Statements {
			stmt = strings.TrimSpace(stmt)
			if !strings.HasSuffix(stmt, ";") {
				stmt += ";"
			}
			fmt.Fprintln(w, stmt)
		}
	}
}

// printResult reports the units a run applied or reverted.
func printResult(w io.Writer, res migrator.Result) {
	if quiet {
		return
	}
	if len(res.Units) == 0 {
		if res.Direction == migrator.Up {
			fmt.Fprintln(w, "Schema is up to date.")
		} else {
			fmt.Fprintln(w, "Nothing to revert.")
		}
		return
	}
	verb := "Applied"
	if res.Direction == migrator.Down {
		verb = "Reverted"
	}
	fmt.Fprintf(w, "%s %d migration(s):\n", verb, len(res.Units))
	for _, id := range res.Units {
		fmt.Fprintf(w, "  %s\n", id)
	}
}
