package migrator

import (
	"context"
	"errors"
	"fmt"
)

// OperationKind tags the schema operation variants.
type OperationKind string

// Operation kinds.
const (
	KindAddColumn    OperationKind = "AddColumn"
	KindDropColumn   OperationKind = "DropColumn"
	KindCreateIndex  OperationKind = "CreateIndex"
	KindDropIndex    OperationKind = "DropIndex"
	KindRawStatement OperationKind = "RawStatement"
)

// Schema is the handle an operation runs against: an executor (usually the
// unit's transaction) and the dialect that renders and inspects DDL.
type Schema struct {
	Exec    Executor
	Dialect Dialect
}

// MigrationStep defines a step that can be executed in up/down mode.
type MigrationStep interface {
	ExecuteUp(ctx context.Context, s Schema) error
	ExecuteDown(ctx context.Context, s Schema) error
}

// Operation is one atomic DDL primitive with explicit forward and backward
// semantics. The set of implementations is closed: AddColumn, DropColumn,
// CreateIndex, DropIndex and RawStatement.
type Operation interface {
	MigrationStep
	Kind() OperationKind
	// Statements renders the SQL the operation would run in the given
	// direction without touching the database.
	Statements(d Dialect, dir Direction) ([]string, error)
	validate() error
}

// ColumnSpec describes a column's physical shape.
type ColumnSpec struct {
	Name     string     `yaml:"name"`
	Type     ColumnType `yaml:"type"`
	Nullable bool       `yaml:"nullable"`
	Default  any        `yaml:"default"`
}

// IndexSpec describes an index.
type IndexSpec struct {
	Table   string   `yaml:"table"`
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
	// Method is the Postgres access method, e.g. "gin".
	Method string `yaml:"method"`
	// Concurrently builds or drops the index without blocking writes
	// (Postgres). Requires a non-transactional unit.
	Concurrently bool `yaml:"concurrently"`
}

// AddColumn adds a column on Up and drops it on Down. A non-nullable column
// with a default backfills existing rows with that default.
type AddColumn struct {
	Table  string
	Column ColumnSpec
}

// DropColumn drops a column on Up and re-adds it with Restore on Down.
// Rollback restores the column's shape, not its data.
type DropColumn struct {
	Table   string
	Column  string
	Restore ColumnSpec
}

// CreateIndex creates an index on Up and drops it on Down.
type CreateIndex struct {
	IndexSpec
}

// DropIndex drops an index on Up and recreates it on Down.
type DropIndex struct {
	IndexSpec
}

// RawStatement executes statements verbatim. It is not validated; keeping Up
// and Down symmetric is the author's responsibility.
type RawStatement struct {
	Up   []string
	Down []string
}

// Raw returns a RawStatement with one statement per direction.
func Raw(up, down string) RawStatement {
	r := RawStatement{Up: []string{up}}
	if down != "" {
		r.Down = []string{down}
	}
	return r
}

func (AddColumn) Kind() OperationKind { return KindAddColumn }

func (o AddColumn) Statements(d Dialect, dir Direction) ([]string, error) {
	if dir == Down {
		return []string{d.DropColumnSQL(o.Table, o.Column.Name)}, nil
	}
	stmt, err := d.AddColumnSQL(o.Table, o.Column)
	if err != nil {
		return nil, err
	}
	return []string{stmt}, nil
}

func (o AddColumn) ExecuteUp(ctx context.Context, s Schema) error {
	if err := requireColumn(ctx, s, o.Kind(), o.Table, o.Column.Name, false); err != nil {
		return err
	}
	return run(ctx, s, o, Up, o.Table, o.Column.Name)
}

func (o AddColumn) ExecuteDown(ctx context.Context, s Schema) error {
	if err := requireColumn(ctx, s, o.Kind(), o.Table, o.Column.Name, true); err != nil {
		return err
	}
	return run(ctx, s, o, Down, o.Table, o.Column.Name)
}

func (o AddColumn) validate() error {
	if o.Table == "" || o.Column.Name == "" {
		return errors.New("add column needs a table and a column name")
	}
	if o.Column.Type == "" {
		return fmt.Errorf("add column %s.%s has no type", o.Table, o.Column.Name)
	}
	return nil
}

func (DropColumn) Kind() OperationKind { return KindDropColumn }

func (o DropColumn) restoreSpec() ColumnSpec {
	c := o.Restore
	c.Name = o.Column
	return c
}

func (o DropColumn) Statements(d Dialect, dir Direction) ([]string, error) {
	if dir == Up {
		return []string{d.DropColumnSQL(o.Table, o.Column)}, nil
	}
	stmt, err := d.AddColumnSQL(o.Table, o.restoreSpec())
	if err != nil {
		return nil, err
	}
	return []string{stmt}, nil
}

func (o DropColumn) ExecuteUp(ctx context.Context, s Schema) error {
	if err := requireColumn(ctx, s, o.Kind(), o.Table, o.Column, true); err != nil {
		return err
	}
	return run(ctx, s, o, Up, o.Table, o.Column)
}

func (o DropColumn) ExecuteDown(ctx context.Context, s Schema) error {
	if err := requireColumn(ctx, s, o.Kind(), o.Table, o.Column, false); err != nil {
		return err
	}
	return run(ctx, s, o, Down, o.Table, o.Column)
}

func (o DropColumn) validate() error {
	if o.Table == "" || o.Column == "" {
		return errors.New("drop column needs a table and a column name")
	}
	if o.Restore.Type == "" {
		return fmt.Errorf("drop column %s.%s has no restore type", o.Table, o.Column)
	}
	return nil
}

func (CreateIndex) Kind() OperationKind { return KindCreateIndex }

func (o CreateIndex) Statements(d Dialect, dir Direction) ([]string, error) {
	return indexStatements(d, o.IndexSpec, dir == Up)
}

func (o CreateIndex) ExecuteUp(ctx context.Context, s Schema) error {
	if err := requireIndex(ctx, s, o.Kind(), o.IndexSpec, false); err != nil {
		return err
	}
	return run(ctx, s, o, Up, o.Table, o.Name)
}

func (o CreateIndex) ExecuteDown(ctx context.Context, s Schema) error {
	if err := requireIndex(ctx, s, o.Kind(), o.IndexSpec, true); err != nil {
		return err
	}
	return run(ctx, s, o, Down, o.Table, o.Name)
}

func (o CreateIndex) validate() error { return o.IndexSpec.validate() }

func (DropIndex) Kind() OperationKind { return KindDropIndex }

func (o DropIndex) Statements(d Dialect, dir Direction) ([]string, error) {
	return indexStatements(d, o.IndexSpec, dir == Down)
}

func (o DropIndex) ExecuteUp(ctx context.Context, s Schema) error {
	if err := requireIndex(ctx, s, o.Kind(), o.IndexSpec, true); err != nil {
		return err
	}
	return run(ctx, s, o, Up, o.Table, o.Name)
}

func (o DropIndex) ExecuteDown(ctx context.Context, s Schema) error {
	if err := requireIndex(ctx, s, o.Kind(), o.IndexSpec, false); err != nil {
		return err
	}
	return run(ctx, s, o, Down, o.Table, o.Name)
}

func (o DropIndex) validate() error { return o.IndexSpec.validate() }

func (i IndexSpec) validate() error {
	if i.Table == "" || i.Name == "" || len(i.Columns) == 0 {
		return errors.New("index needs a table, a name and at least one column")
	}
	return nil
}

func (RawStatement) Kind() OperationKind { return KindRawStatement }

func (o RawStatement) Statements(_ Dialect, dir Direction) ([]string, error) {
	if dir == Down {
		if len(o.Down) == 0 {
			return nil, ErrIrreversible
		}
		return o.Down, nil
	}
	return o.Up, nil
}

func (o RawStatement) ExecuteUp(ctx context.Context, s Schema) error {
	return run(ctx, s, o, Up, "", "")
}

func (o RawStatement) ExecuteDown(ctx context.Context, s Schema) error {
	return run(ctx, s, o, Down, "", "")
}

func (o RawStatement) validate() error {
	if len(o.Up) == 0 {
		return errors.New("raw statement has no forward statement")
	}
	if len(o.Down) == 0 {
		return errors.New("raw statement has no backward statement")
	}
	return nil
}

func indexStatements(d Dialect, idx IndexSpec, create bool) ([]string, error) {
	var (
		stmt string
		err  error
	)
	if create {
		stmt, err = d.CreateIndexSQL(idx)
	} else {
		stmt, err = d.DropIndexSQL(idx)
	}
	if err != nil {
		return nil, err
	}
	return []string{stmt}, nil
}

// run renders op for dir and executes the statements in order.
func run(ctx context.Context, s Schema, op Operation, dir Direction, table, object string) error {
	stmts, err := op.Statements(s.Dialect, dir)
	if err != nil {
		return &SchemaOperationError{Op: op.Kind(), Table: table, Object: object, Err: err}
	}
	for _, stmt := range stmts {
		if _, err := s.Exec.ExecContext(ctx, stmt); err != nil {
			return &SchemaOperationError{Op: op.Kind(), Table: table, Object: object, Err: err}
		}
	}
	return nil
}

// requireColumn checks that table exists and that column exists (or not).
func requireColumn(
	ctx context.Context, s Schema, kind OperationKind, table, column string, exists bool,
) error {
	opErr := func(err error) error {
		return &SchemaOperationError{Op: kind, Table: table, Object: column, Err: err}
	}
	ok, err := s.Dialect.TableExists(ctx, s.Exec, table)
	if err != nil {
		return opErr(err)
	}
	if !ok {
		return opErr(ErrTableNotFound)
	}
	_, found, err := s.Dialect.Column(ctx, s.Exec, table, column)
	if err != nil {
		return opErr(err)
	}
	switch {
	case exists && !found:
		return opErr(ErrColumnNotFound)
	case !exists && found:
		return opErr(ErrColumnExists)
	}
	return nil
}

// requireIndex checks that the index's table exists and that the index
// exists (or not).
func requireIndex(
	ctx context.Context, s Schema, kind OperationKind, idx IndexSpec, exists bool,
) error {
	opErr := func(err error) error {
		return &SchemaOperationError{Op: kind, Table: idx.Table, Object: idx.Name, Err: err}
	}
	ok, err := s.Dialect.TableExists(ctx, s.Exec, idx.Table)
	if err != nil {
		return opErr(err)
	}
	if !ok {
		return opErr(ErrTableNotFound)
	}
	found, err := s.Dialect.IndexExists(ctx, s.Exec, qualifiedIndexName(idx))
	if err != nil {
		return opErr(err)
	}
	switch {
	case exists && !found:
		return opErr(ErrIndexNotFound)
	case !exists && found:
		return opErr(ErrIndexExists)
	}
	return nil
}
