package migrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const electionYAML = `
migrations:
  - id: 20230412093000ManualEndResultRequired
    description: require manual end results per election
    operations:
      - add_column:
          table: ProportionalElectionEndResult
          column: {name: ManualEndResultRequired, type: boolean, default: false}
  - id: 20230502120001AllowedCandidates
    operations:
      - drop_column:
          table: ProportionalElection
          column: AllowedCandidates
          restore: {type: integer, default: 0}
  - id: 20230601000000CandidateIds
    operations:
      - add_column:
          table: Contest
          column: {name: CandidateIds, type: "uuid[]", nullable: true, default: []}
      - add_column:
          table: Contest
          column: {name: CreatedAt, type: timestamp, default: {expr: now()}}
  - id: 20230701000000TitleSearch
    non_transactional: true
    operations:
      - create_index:
          table: SimplePoliticalBusiness
          name: IX_SPB_Title
          columns: [Title]
          method: gin
          concurrently: true
      - raw:
          up: [ANALYZE "SimplePoliticalBusiness"]
          down: [SELECT 1]
`

func TestParseYAML(t *testing.T) {
	migs, err := ParseYAML([]byte(electionYAML))
	require.NoError(t, err)
	require.Len(t, migs, 4)

	assert.Equal(t, "require manual end results per election", migs[0].Description)
	assert.Equal(t, AddColumn{
		Table:  "ProportionalElectionEndResult",
		Column: ColumnSpec{Name: "ManualEndResultRequired", Type: Boolean, Default: false},
	}, migs[0].Operations[0])

	assert.Equal(t, DropColumn{
		Table:   "ProportionalElection",
		Column:  "AllowedCandidates",
		Restore: ColumnSpec{Type: Integer, Default: 0},
	}, migs[1].Operations[0])

	ids := migs[2].Operations[0].(AddColumn)
	assert.Equal(t, UUIDArray, ids.Column.Type)
	assert.True(t, ids.Column.Nullable)
	assert.Equal(t, EmptyArray, ids.Column.Default)
	assert.Equal(t, Expr("now()"), migs[2].Operations[1].(AddColumn).Column.Default)

	assert.True(t, migs[3].NonTransactional)
	idx := migs[3].Operations[0].(CreateIndex)
	assert.Equal(t, "gin", idx.Method)
	assert.True(t, idx.Concurrently)
	assert.Equal(t, []string{"Title"}, idx.Columns)

	r, err := NewRegistry(GoSource{&migs[0], &migs[1], &migs[2], &migs[3]})
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
}

func TestParseYAMLErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key": `
migrations:
  - id: 20240101000000X
    operations:
      - rename_table: {from: a, to: b}
`,
		"two kinds in one operation": `
migrations:
  - id: 20240101000000X
    operations:
      - raw: {up: [SELECT 1], down: [SELECT 1]}
        drop_index: {table: t, name: ix, columns: [a]}
`,
		"no kind": `
migrations:
  - id: 20240101000000X
    operations:
      - {}
`,
		"non-empty array default": `
migrations:
  - id: 20240101000000X
    operations:
      - add_column:
          table: t
          column: {name: a, type: "uuid[]", default: [x]}
`,
		"bad expression default": `
migrations:
  - id: 20240101000000X
    operations:
      - add_column:
          table: t
          column: {name: a, type: text, default: {sql: now()}}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseYAMLEmpty(t *testing.T) {
	migs, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, migs)
}

func TestParseYAMLMultipleDocuments(t *testing.T) {
	migs, err := ParseYAML([]byte(`
migrations:
  - id: 20240101000000A
    operations:
      - raw: {up: [SELECT 1], down: [SELECT 1]}
---
migrations:
  - id: 20240102000000B
    operations:
      - raw: {up: [SELECT 2], down: [SELECT 2]}
---
`))
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, ID("20240101000000A"), migs[0].ID)
	assert.Equal(t, ID("20240102000000B"), migs[1].ID)

	_, err = ParseYAML([]byte(`
migrations:
  - id: 20240101000000A
    operations:
      - raw: {up: [SELECT 1], down: [SELECT 1]}
---
migrations:
  - id: 20240102000000B
    operations:
      - rename_table: {from: a, to: b}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 2")
}

func TestYAMLMigrationSource(t *testing.T) {
	p := filepath.Join(t.TempDir(), "migrations.yaml")
	mustWrite(t, p, electionYAML)

	migs, err := NewYAMLMigrationSource(p).LoadMigrations()
	require.NoError(t, err)
	assert.Len(t, migs, 4)

	_, err = NewYAMLMigrationSource(filepath.Join(t.TempDir(), "missing.yaml")).LoadMigrations()
	assert.Error(t, err)
}
