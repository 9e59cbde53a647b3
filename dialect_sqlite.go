package migrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the SQLite dialect backed by modernc.org/sqlite. Names may be
// qualified with an attached database, e.g. "main.voters".
type SQLite struct{}

// sqliteMaster returns the catalog table of an attached schema.
func sqliteMaster(schema string) string {
	if schema == "" {
		return "sqlite_master"
	}
	return QuoteIdent(schema) + ".sqlite_master"
}

// tableInfo returns a pragma_table_info source for a possibly qualified
// table, with its arguments.
func tableInfo(table string) (string, []any) {
	schema, rel := splitQualified(table)
	if schema == "" {
		return "pragma_table_info(?)", []any{rel}
	}
	return "pragma_table_info(?, ?)", []any{rel, schema}
}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ColumnTypeSQL(t ColumnType) string {
	switch t {
	case Boolean:
		return "BOOLEAN"
	case Integer, BigInt:
		return "INTEGER"
	case Text, UUID, UUIDArray, JSON:
		return "TEXT"
	case Timestamp:
		return "TIMESTAMP"
	}
	return string(t)
}

func (SQLite) DefaultSQL(v any) (string, error) {
	if s, ok := scalarDefaultSQL(v); ok {
		return s, nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case emptyArray:
		return "'[]'", nil
	}
	return "", fmt.Errorf("unsupported default value %v (%T)", v, v)
}

func (s SQLite) AddColumnSQL(table string, col ColumnSpec) (string, error) {
	return addColumnSQL(s, table, col)
}

func (SQLite) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteIdent(table), QuoteIdent(column))
}

func (SQLite) CreateIndexSQL(idx IndexSpec) (string, error) {
	if idx.Concurrently {
		return "", errors.New("sqlite does not support concurrent index builds")
	}
	if idx.Method != "" {
		return "", fmt.Errorf("sqlite does not support index method %q", idx.Method)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	// SQLite qualifies the index, never the table it is built on.
	_, table := splitQualified(idx.Table)
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique,
		QuoteIdent(qualifiedIndexName(idx)), QuoteIdent(table), indexColumnsSQL(idx.Columns)), nil
}

func (SQLite) DropIndexSQL(idx IndexSpec) (string, error) {
	if idx.Concurrently {
		return "", errors.New("sqlite does not support concurrent index builds")
	}
	return "DROP INDEX " + QuoteIdent(qualifiedIndexName(idx)), nil
}

func (SQLite) HistoryTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace  TEXT NOT NULL,
		identity   TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, identity))`, QuoteIdent(table))
}

func (SQLite) TableExists(ctx context.Context, q Executor, table string) (bool, error) {
	schema, rel := splitQualified(table)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqliteMaster(schema)+
		` WHERE type = 'table' AND name = ?`, rel).Scan(&n)
	return n > 0, err
}

func (SQLite) Column(ctx context.Context, q Executor, table, column string) (ColumnInfo, bool, error) {
	src, args := tableInfo(table)
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value FROM `+src+` WHERE name = ?`,
		append(args, column)...)
	if err != nil {
		return ColumnInfo{}, false, err
	}
	cols, err := scanColumns(rows)
	if err != nil || len(cols) == 0 {
		return ColumnInfo{}, false, err
	}
	return cols[0], true, nil
}

func (SQLite) IndexExists(ctx context.Context, q Executor, name string) (bool, error) {
	schema, rel := splitQualified(name)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqliteMaster(schema)+
		` WHERE type = 'index' AND name = ?`, rel).Scan(&n)
	return n > 0, err
}

func (SQLite) Snapshot(ctx context.Context, q Executor, table string) (TableShape, error) {
	src, args := tableInfo(table)
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value FROM `+src, args...)
	if err != nil {
		return TableShape{}, err
	}
	cols, err := scanColumns(rows)
	if err != nil {
		return TableShape{}, err
	}
	schema, rel := splitQualified(table)
	rows, err = q.QueryContext(ctx, `SELECT COALESCE(sql, name) FROM `+sqliteMaster(schema)+`
		WHERE type = 'index' AND tbl_name = ?`, rel)
	if err != nil {
		return TableShape{}, err
	}
	idx, err := scanStrings(rows)
	if err != nil {
		return TableShape{}, err
	}
	return TableShape{Columns: cols, Indexes: idx}, nil
}

func (SQLite) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
