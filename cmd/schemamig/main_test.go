package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatuh/schemamigrator/internal/cli"
)

// workspace writes a config file pointing at a fresh SQLite database and a
// migrations directory with two units, and returns the config path.
func workspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "migrations")
	require.NoError(t, os.Mkdir(dir, 0o755))

	files := map[string]string{
		"20240101000000CreateVoters.up.sql":   "CREATE TABLE voters (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
		"20240101000000CreateVoters.down.sql": "DROP TABLE voters;",
		"voter_email.yaml": `
migrations:
  - id: 20240102000000VoterEmail
    description: contact address
    operations:
      - add_column:
          table: voters
          column: {name: email, type: text, nullable: true}
`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	configPath := filepath.Join(root, "schemamig.yaml")
	config := "database:\n  driver: sqlite\n  name: " + filepath.Join(root, "votes.db") +
		"\nmigrations:\n  dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return configPath
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI with fresh flags and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUpStatusDown(t *testing.T) {
	conf := workspace(t)

	out, err := run(t, "--config", conf, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 migration(s)")
	assert.Contains(t, out, "20240101000000CreateVoters")

	out, err = run(t, "--config", conf, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date.")

	out, err = run(t, "--config", conf, "version")
	require.NoError(t, err)
	assert.Equal(t, "20240102000000VoterEmail\n", out)

	out, err = run(t, "--config", conf, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "MIGRATION")
	assert.Contains(t, out, "contact address")
	assert.Equal(t, 2, strings.Count(out, "applied"))
	assert.Contains(t, out, "2 migration(s), 0 pending")

	out, err = run(t, "--config", conf, "down")
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted 1 migration(s)")
	assert.Contains(t, out, "20240102000000VoterEmail")

	out, err = run(t, "--config", conf, "down", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "20240101000000CreateVoters")

	out, err = run(t, "--config", conf, "version")
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)
}

func TestUpToTargetAndDownTo(t *testing.T) {
	conf := workspace(t)

	out, err := run(t, "--config", conf, "up", "--to", "20240101000000CreateVoters")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 1 migration(s)")

	out, err = run(t, "--config", conf, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 1 migration(s)")

	out, err = run(t, "--config", conf, "down", "--to", "20240101000000CreateVoters")
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted 1 migration(s)")

	out, err = run(t, "--config", conf, "version")
	require.NoError(t, err)
	assert.Equal(t, "20240101000000CreateVoters\n", out)
}

func TestDryRunDoesNotTouchDatabase(t *testing.T) {
	conf := workspace(t)

	out, err := run(t, "--config", conf, "up", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "-- 20240101000000CreateVoters (up)")
	assert.Contains(t, out, "CREATE TABLE voters")
	assert.Contains(t, out, `ALTER TABLE "voters" ADD COLUMN "email" TEXT;`)

	out, err = run(t, "--config", conf, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "2 migration(s), 2 pending")

	_, err = run(t, "--config", conf, "up")
	require.NoError(t, err)

	out, err = run(t, "--config", conf, "down", "--dry-run", "--steps", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "-- 20240102000000VoterEmail (down)")
	assert.Contains(t, out, "DROP TABLE voters;")
	assert.Less(t, strings.Index(out, "VoterEmail"), strings.Index(out, "CreateVoters"))

	out, err = run(t, "--config", conf, "version")
	require.NoError(t, err)
	assert.Equal(t, "20240102000000VoterEmail\n", out)
}

func TestExitCodes(t *testing.T) {
	conf := workspace(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{
			name: "unknown target",
			args: []string{"up", "--to", "20990101000000Nope"},
			want: cli.ExitRegistry,
		},
		{
			name: "unsupported driver",
			args: []string{"--driver", "mysql", "status"},
			want: cli.ExitConfig,
		},
		{
			name: "missing migrations dir",
			args: []string{"--dir", filepath.Join(t.TempDir(), "missing"), "up"},
			want: cli.ExitRegistry,
		},
		{
			name: "unreachable database",
			args: []string{"--db", filepath.Join(t.TempDir(), "no", "such", "dir", "votes.db"), "up"},
			want: cli.ExitDBConnect,
		},
		{
			name: "bad step count",
			args: []string{"down", "--steps", "0"},
			want: cli.ExitConfig,
		},
		{
			name: "missing config file",
			args: []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "status"},
			want: cli.ExitConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--config", conf}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.want, cli.ExitCode(err), "got %v", err)
		})
	}
}

func TestStatusListsRowsOnOrderingViolation(t *testing.T) {
	conf := workspace(t)
	_, err := run(t, "--config", conf, "up")
	require.NoError(t, err)

	// Remove the newest unit's files so the history names an unknown unit.
	dir := filepath.Join(filepath.Dir(conf), "migrations")
	require.NoError(t, os.Remove(filepath.Join(dir, "voter_email.yaml")))

	out, err := run(t, "--config", conf, "status")
	require.Error(t, err)
	assert.Equal(t, cli.ExitRegistry, cli.ExitCode(err), "got %v", err)
	assert.Contains(t, out, "20240101000000CreateVoters")
	assert.Contains(t, out, "20240102000000VoterEmail")
	assert.Contains(t, out, "not in registry")
}

func TestConfigShow(t *testing.T) {
	conf := workspace(t)

	out, err := run(t, "--config", conf, "config", "show", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: "+conf)
	assert.Contains(t, out, "driver: sqlite")
	assert.Contains(t, out, "table: schema_migrations")
	assert.Contains(t, out, "namespace: default")
}
