package migrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlDocument is the on-disk form of declarative migrations:
//
//	migrations:
//	  - id: 20230412093000ManualEndResultRequired
//	    operations:
//	      - add_column:
//	          table: ProportionalElectionEndResult
//	          column: {name: ManualEndResultRequired, type: boolean, default: false}
type yamlDocument struct {
	Migrations []yamlMigration `yaml:"migrations"`
}

type yamlMigration struct {
	ID               ID              `yaml:"id"`
	Description      string          `yaml:"description"`
	NonTransactional bool            `yaml:"non_transactional"`
	Operations       []yamlOperation `yaml:"operations"`
}

type yamlOperation struct {
	AddColumn *struct {
		Table  string     `yaml:"table"`
		Column ColumnSpec `yaml:"column"`
	} `yaml:"add_column"`
	DropColumn *struct {
		Table   string     `yaml:"table"`
		Column  string     `yaml:"column"`
		Restore ColumnSpec `yaml:"restore"`
	} `yaml:"drop_column"`
	CreateIndex *IndexSpec `yaml:"create_index"`
	DropIndex   *IndexSpec `yaml:"drop_index"`
	Raw         *struct {
		Up   []string `yaml:"up"`
		Down []string `yaml:"down"`
	} `yaml:"raw"`
}

// YAMLMigrationSource loads declarative migrations from a YAML file.
type YAMLMigrationSource struct {
	Path string
}

// NewYAMLMigrationSource returns a source reading the YAML file at path.
func NewYAMLMigrationSource(path string) *YAMLMigrationSource {
	return &YAMLMigrationSource{Path: path}
}

// LoadMigrations parses the file.
func (y *YAMLMigrationSource) LoadMigrations() ([]Migration, error) {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return nil, err
	}
	migs, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", y.Path, err)
	}
	return migs, nil
}

// ParseYAML decodes declarative migrations. A stream may hold several
// documents separated by "---"; units of every document are returned.
// Unknown keys are rejected.
//
// Parameters:
//   - data: The YAML stream.
//
// Returns:
//   - []Migration: The declared migrations in document order.
//   - error: An error if any document is malformed.
func ParseYAML(data []byte) ([]Migration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []Migration
	for n := 1; ; n++ {
		var doc yamlDocument
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		for _, ym := range doc.Migrations {
			m := Migration{
				ID:               ym.ID,
				Description:      ym.Description,
				NonTransactional: ym.NonTransactional,
			}
			for i, yo := range ym.Operations {
				op, err := yo.operation()
				if err != nil {
					return nil, fmt.Errorf("migration %s step %d: %w", ym.ID, i+1, err)
				}
				m.Operations = append(m.Operations, op)
			}
			out = append(out, m)
		}
	}
}

func (yo yamlOperation) operation() (Operation, error) {
	var ops []Operation
	if c := yo.AddColumn; c != nil {
		col, err := normalizeColumn(c.Column)
		if err != nil {
			return nil, err
		}
		ops = append(ops, AddColumn{Table: c.Table, Column: col})
	}
	if c := yo.DropColumn; c != nil {
		col, err := normalizeColumn(c.Restore)
		if err != nil {
			return nil, err
		}
		ops = append(ops, DropColumn{Table: c.Table, Column: c.Column, Restore: col})
	}
	if yo.CreateIndex != nil {
		ops = append(ops, CreateIndex{IndexSpec: *yo.CreateIndex})
	}
	if yo.DropIndex != nil {
		ops = append(ops, DropIndex{IndexSpec: *yo.DropIndex})
	}
	if r := yo.Raw; r != nil {
		ops = append(ops, RawStatement{Up: r.Up, Down: r.Down})
	}
	if len(ops) != 1 {
		return nil, errors.New("each operation must set exactly one of " +
			"add_column, drop_column, create_index, drop_index, raw")
	}
	return ops[0], nil
}

// normalizeColumn maps YAML-decoded defaults onto the values dialects render.
func normalizeColumn(c ColumnSpec) (ColumnSpec, error) {
	switch v := c.Default.(type) {
	case []any:
		if len(v) != 0 {
			return c, fmt.Errorf("column %s: only empty array defaults are supported", c.Name)
		}
		c.Default = EmptyArray
	case map[string]any:
		expr, ok := v["expr"].(string)
		if !ok || len(v) != 1 {
			return c, fmt.Errorf("column %s: default mapping must be {expr: <sql>}", c.Name)
		}
		c.Default = Expr(expr)
	}
	return c, nil
}
