package migrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"
)

// SQLSTATE codes inspected by the Postgres dialect.
const (
	pgUniqueViolation = "23505"
)

const pgColumnsQuery = `
SELECT a.attname,
       format_type(a.atttypid, a.atttypmod),
       a.attnotnull,
       pg_get_expr(d.adbin, d.adrelid)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = COALESCE(NULLIF($1, ''), current_schema())
  AND c.relname = $2
  AND a.attnum > 0
  AND NOT a.attisdropped`

// Postgres is the PostgreSQL dialect. Both the pgx ("pgx") and lib/pq
// ("postgres") drivers are supported.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) ColumnTypeSQL(t ColumnType) string {
	switch t {
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case BigInt:
		return "bigint"
	case Text:
		return "text"
	case UUID:
		return "uuid"
	case UUIDArray:
		return "uuid[]"
	case Timestamp:
		return "timestamp with time zone"
	case JSON:
		return "jsonb"
	}
	return string(t)
}

func (Postgres) DefaultSQL(v any) (string, error) {
	if s, ok := scalarDefaultSQL(v); ok {
		return s, nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case emptyArray:
		return "'{}'", nil
	}
	return "", fmt.Errorf("unsupported default value %v (%T)", v, v)
}

func (p Postgres) AddColumnSQL(table string, col ColumnSpec) (string, error) {
	return addColumnSQL(p, table, col)
}

func (Postgres) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteIdent(table), QuoteIdent(column))
}

func (Postgres) CreateIndexSQL(idx IndexSpec) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if idx.Concurrently {
		b.WriteString("CONCURRENTLY ")
	}
	// The index is created in the table's schema and may not be qualified.
	_, name := splitQualified(idx.Name)
	fmt.Fprintf(&b, "%s ON %s", QuoteIdent(name), QuoteIdent(idx.Table))
	if idx.Method != "" {
		fmt.Fprintf(&b, " USING %s", idx.Method)
	}
	fmt.Fprintf(&b, " (%s)", indexColumnsSQL(idx.Columns))
	return b.String(), nil
}

func (Postgres) DropIndexSQL(idx IndexSpec) (string, error) {
	name := QuoteIdent(qualifiedIndexName(idx))
	if idx.Concurrently {
		return "DROP INDEX CONCURRENTLY " + name, nil
	}
	return "DROP INDEX " + name, nil
}

func (Postgres) HistoryTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace  TEXT NOT NULL,
		identity   TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, identity))`, QuoteIdent(table))
}

func (Postgres) TableExists(ctx context.Context, q Executor, table string) (bool, error) {
	schema, rel := splitQualified(table)
	var ok bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND table_name = $2)`, schema, rel).Scan(&ok)
	return ok, err
}

func (Postgres) Column(ctx context.Context, q Executor, table, column string) (ColumnInfo, bool, error) {
	schema, rel := splitQualified(table)
	rows, err := q.QueryContext(ctx, pgColumnsQuery+" AND a.attname = $3", schema, rel, column)
	if err != nil {
		return ColumnInfo{}, false, err
	}
	cols, err := scanColumns(rows)
	if err != nil || len(cols) == 0 {
		return ColumnInfo{}, false, err
	}
	return cols[0], true, nil
}

func (Postgres) IndexExists(ctx context.Context, q Executor, name string) (bool, error) {
	schema, rel := splitQualified(name)
	var ok bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = COALESCE(NULLIF($1, ''), current_schema())
		  AND indexname = $2)`, schema, rel).Scan(&ok)
	return ok, err
}

func (Postgres) Snapshot(ctx context.Context, q Executor, table string) (TableShape, error) {
	schema, rel := splitQualified(table)
	rows, err := q.QueryContext(ctx, pgColumnsQuery, schema, rel)
	if err != nil {
		return TableShape{}, err
	}
	cols, err := scanColumns(rows)
	if err != nil {
		return TableShape{}, err
	}
	rows, err = q.QueryContext(ctx, `SELECT indexdef FROM pg_indexes
		WHERE schemaname = COALESCE(NULLIF($1, ''), current_schema())
		  AND tablename = $2`, schema, rel)
	if err != nil {
		return TableShape{}, err
	}
	idx, err := scanStrings(rows)
	if err != nil {
		return TableShape{}, err
	}
	return TableShape{Columns: cols, Indexes: idx}, nil
}

func (Postgres) IsUniqueViolation(err error) bool {
	return sqlState(err) == pgUniqueViolation
}

// sqlState extracts the SQLSTATE from a pgx or lib/pq error.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
