package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Executor is the minimal interface needed to run and inspect DDL.
// Implemented by *sql.DB, *sql.Tx and *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ColumnType names a portable column type. Values outside the predefined set
// are passed to the database verbatim.
type ColumnType string

// Portable column types.
const (
	Boolean   ColumnType = "boolean"
	Integer   ColumnType = "integer"
	BigInt    ColumnType = "bigint"
	Text      ColumnType = "text"
	UUID      ColumnType = "uuid"
	UUIDArray ColumnType = "uuid[]"
	Timestamp ColumnType = "timestamp"
	JSON      ColumnType = "json"
)

// Expr is a default value rendered verbatim, e.g. Expr("now()").
type Expr string

// emptyArray is the type of EmptyArray.
type emptyArray struct{}

// EmptyArray is the default for array columns that start out empty.
var EmptyArray = emptyArray{}

// ColumnInfo is the physical shape of a column as reported by the database.
type ColumnInfo struct {
	Name    string
	Type    string
	NotNull bool
	Default string // empty when the column has no default
}

// TableShape is an introspected snapshot of a table, used to verify that
// rollbacks restore the previous schema.
type TableShape struct {
	Columns []ColumnInfo // sorted by name
	Indexes []string     // sorted index definitions
}

// Dialect renders DDL and inspects the schema for one database engine.
type Dialect interface {
	Name() string
	Placeholder(n int) string

	ColumnTypeSQL(t ColumnType) string
	DefaultSQL(v any) (string, error)
	AddColumnSQL(table string, col ColumnSpec) (string, error)
	DropColumnSQL(table, column string) string
	CreateIndexSQL(idx IndexSpec) (string, error)
	DropIndexSQL(idx IndexSpec) (string, error)
	HistoryTableSQL(table string) string

	TableExists(ctx context.Context, q Executor, table string) (bool, error)
	Column(ctx context.Context, q Executor, table, column string) (ColumnInfo, bool, error)
	IndexExists(ctx context.Context, q Executor, name string) (bool, error)
	Snapshot(ctx context.Context, q Executor, table string) (TableShape, error)

	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint violation.
	IsUniqueViolation(err error) bool
}

// DialectFor returns the dialect for a database/sql driver name.
//
// Parameters:
//   - driver: The registered driver name ("pgx", "postgres" or "sqlite").
//
// Returns:
//   - Dialect: The matching dialect.
//   - error: An error if the driver is not supported.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// QuoteIdent quotes a possibly schema-qualified identifier.
func QuoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// splitQualified splits "schema.name" into its parts. schema is empty for an
// unqualified name.
func splitQualified(name string) (schema, rel string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// qualifiedIndexName returns the index name in its table's schema. An index
// always lives in the schema of the table it is built on.
func qualifiedIndexName(idx IndexSpec) string {
	if strings.Contains(idx.Name, ".") {
		return idx.Name
	}
	schema, _ := splitQualified(idx.Table)
	if schema == "" {
		return idx.Name
	}
	return schema + "." + idx.Name
}

// quoteString renders a string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// addColumnSQL renders the ADD COLUMN statement shared by both dialects.
func addColumnSQL(d Dialect, table string, col ColumnSpec) (string, error) {
	if col.Type == "" {
		return "", fmt.Errorf("column %s has no type", col.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s %s",
		QuoteIdent(table), QuoteIdent(col.Name), d.ColumnTypeSQL(col.Type))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	def, err := d.DefaultSQL(col.Default)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", col.Name, err)
	}
	if def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String(), nil
}

// scalarDefaultSQL renders the default values both dialects agree on. ok is
// false when the caller must handle v itself.
func scalarDefaultSQL(v any) (s string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case Expr:
		return string(x), true
	case string:
		return quoteString(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

func indexColumnsSQL(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = QuoteIdent(c)
	}
	return strings.Join(q, ", ")
}

// scanColumns reads (name, type, notnull, default) rows.
func scanColumns(rows *sql.Rows) ([]ColumnInfo, error) {
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var (
			c   ColumnInfo
			def sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &def); err != nil {
			return nil, err
		}
		c.Default = def.String
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
