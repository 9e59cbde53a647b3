// Package migrations holds the reference PostgreSQL migration set for the
// voting schema. The base tables are embedded SQL files; later units are
// declared as structured operations.
package migrations

import (
	"embed"

	migrator "github.com/aatuh/schemamigrator"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Identities of the reference units, oldest first.
const (
	InitialVotingSchema      migrator.ID = "20230301000000InitialVotingSchema"
	ManualEndResultRequired  migrator.ID = "20230412093000ManualEndResultRequired"
	NewZhFeaturesEnabled     migrator.ID = "20230420110000NewZhFeaturesEnabled"
	AllowedCandidates        migrator.ID = "20230502120001AllowedCandidates"
	RemoveNewZhFeaturesFlag  migrator.ID = "20230515080000RemoveNewZhFeaturesFlag"
	TitleSearchIndex         migrator.ID = "20230601000000TitleSearchIndex"
	EndResultElectionIDIndex migrator.ID = "20230615000000EndResultElectionIdIndex"
)

// TitleSearchIndexName is the GIN index created by TitleSearchIndex.
const TitleSearchIndexName = "IX_SimplePoliticalBusiness_Title_Search"

// Units returns the structured units declared in Go.
func Units() migrator.GoSource {
	return migrator.GoSource{
		migrator.NewMigration(ManualEndResultRequired,
			migrator.AddColumn{
				Table: "ProportionalElectionEndResult",
				Column: migrator.ColumnSpec{
					Name:    "ManualEndResultRequired",
					Type:    migrator.Boolean,
					Default: false,
				},
			},
		).WithDescription("end results may require manual entry"),

		migrator.NewMigration(NewZhFeaturesEnabled,
			migrator.AddColumn{
				Table: "CantonSettings",
				Column: migrator.ColumnSpec{
					Name:    "NewZhFeaturesEnabled",
					Type:    migrator.Boolean,
					Default: false,
				},
			},
		),

		// The prior default of AllowedCandidates was never recorded; rollback
		// restores an integer column defaulting to 0, not the dropped data.
		migrator.NewMigration(AllowedCandidates,
			migrator.DropColumn{
				Table:   "ProportionalElection",
				Column:  "AllowedCandidates",
				Restore: migrator.ColumnSpec{Type: migrator.Integer, Default: 0},
			},
		),

		migrator.NewMigration(RemoveNewZhFeaturesFlag,
			migrator.DropColumn{
				Table:   "CantonSettings",
				Column:  "NewZhFeaturesEnabled",
				Restore: migrator.ColumnSpec{Type: migrator.Boolean, Default: false},
			},
		).WithDescription("the ZH features are enabled for every canton"),

		migrator.NewMigration(TitleSearchIndex,
			migrator.RawStatement{
				Up: []string{
					`CREATE INDEX "` + TitleSearchIndexName + `" ON "SimplePoliticalBusiness" USING gin (to_tsvector('simple', "Title"))`,
					`ANALYZE "SimplePoliticalBusiness"`,
				},
				Down: []string{
					`DROP INDEX "` + TitleSearchIndexName + `"`,
				},
			},
		).WithDescription("full text search over political business titles"),

		migrator.NewMigration(EndResultElectionIDIndex,
			migrator.CreateIndex{IndexSpec: migrator.IndexSpec{
				Table:        "ProportionalElectionEndResult",
				Name:         "IX_ProportionalElectionEndResult_ProportionalElectionId",
				Columns:      []string{"ProportionalElectionId"},
				Concurrently: true,
			}},
		).WithNonTransactional(true),
	}
}

// Source returns every reference unit: the embedded SQL files followed by
// the structured units.
func Source() []migrator.MigrationSource {
	return []migrator.MigrationSource{
		migrator.NewFSMigrationSource(sqlFiles, "sql"),
		Units(),
	}
}

// Registry builds the registry of the reference set.
func Registry() (*migrator.Registry, error) {
	return migrator.NewRegistry(Source()...)
}
