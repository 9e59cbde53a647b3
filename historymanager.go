package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History defaults.
const (
	DefaultHistoryTable = "schema_migrations"
	DefaultNamespace    = "default"
)

// HistoryRecord is one applied migration unit.
type HistoryRecord struct {
	ID        ID
	AppliedAt time.Time
}

// HistoryStore persists which migration units have been applied. A record's
// existence is the sole source of truth for "already applied".
type HistoryStore interface {
	// Ensure creates the history table if it does not exist.
	Ensure(ctx context.Context) error
	// Applied returns the applied units sorted by identity.
	Applied(ctx context.Context) ([]HistoryRecord, error)
	// Record inserts a record for id using exec, usually the unit's
	// transaction.
	Record(ctx context.Context, exec Executor, id ID) error
	// Unrecord deletes the record for id using exec.
	Unrecord(ctx context.Context, exec Executor, id ID) error
}

// SQLHistoryStore implements HistoryStore on a table in the migrated
// database. Several migration sets may share the table under different
// namespaces.
type SQLHistoryStore struct {
	DB        *sql.DB
	Dialect   Dialect
	Table     string
	Namespace string
	// Now returns the applied_at timestamp; defaults to time.Now().UTC().
	Now func() time.Time
}

// NewSQLHistoryStore returns a new SQLHistoryStore with the default table
// and namespace.
//
// Parameters:
//   - db: The database holding the history table.
//   - dialect: The dialect of db.
//
// Returns:
//   - *SQLHistoryStore: A new SQLHistoryStore instance.
func NewSQLHistoryStore(db *sql.DB, dialect Dialect) *SQLHistoryStore {
	return &SQLHistoryStore{
		DB:        db,
		Dialect:   dialect,
		Table:     DefaultHistoryTable,
		Namespace: DefaultNamespace,
	}
}

// WithTable returns a new SQLHistoryStore using the given table.
//
// Parameters:
//   - table: The name of the history table.
//
// Returns:
//   - *SQLHistoryStore: A new SQLHistoryStore instance.
func (s *SQLHistoryStore) WithTable(table string) *SQLHistoryStore {
	c := *s
	c.Table = table
	return &c
}

// WithNamespace returns a new SQLHistoryStore using the given namespace. It
// is used to distinguish migrations between multiple systems.
//
// Parameters:
//   - namespace: The namespace recorded with every row.
//
// Returns:
//   - *SQLHistoryStore: A new SQLHistoryStore instance.
func (s *SQLHistoryStore) WithNamespace(namespace string) *SQLHistoryStore {
	c := *s
	c.Namespace = namespace
	return &c
}

// Ensure creates the history table with CREATE TABLE IF NOT EXISTS.
func (s *SQLHistoryStore) Ensure(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.HistoryTableSQL(s.Table)); err != nil {
		return &HistoryStoreError{Op: "ensure " + s.Table, Err: err}
	}
	return nil
}

// Applied returns the applied units of the store's namespace.
func (s *SQLHistoryStore) Applied(ctx context.Context) ([]HistoryRecord, error) {
	query := fmt.Sprintf(
		`SELECT identity, applied_at FROM %s WHERE namespace = %s ORDER BY identity`,
		QuoteIdent(s.Table), s.Dialect.Placeholder(1),
	)
	rows, err := s.DB.QueryContext(ctx, query, s.Namespace)
	if err != nil {
		return nil, &HistoryStoreError{Op: "read", Err: err}
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec HistoryRecord
			id  string
		)
		if err := rows.Scan(&id, &rec.AppliedAt); err != nil {
			return nil, &HistoryStoreError{Op: "read", Err: err}
		}
		rec.ID = ID(id)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &HistoryStoreError{Op: "read", Err: err}
	}
	return out, nil
}

// Record inserts the applied record for id.
func (s *SQLHistoryStore) Record(ctx context.Context, exec Executor, id ID) error {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (namespace, identity, applied_at) VALUES (%s, %s, %s)`,
		QuoteIdent(s.Table),
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2), s.Dialect.Placeholder(3),
	)
	if _, err := exec.ExecContext(ctx, query, s.Namespace, string(id), now); err != nil {
		if s.Dialect.IsUniqueViolation(err) {
			err = fmt.Errorf("%s is already recorded: %w", id, err)
		}
		return &HistoryStoreError{Op: "record " + string(id), Err: err}
	}
	return nil
}

// Unrecord deletes the applied record for id. A missing record is an error.
func (s *SQLHistoryStore) Unrecord(ctx context.Context, exec Executor, id ID) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE namespace = %s AND identity = %s`,
		QuoteIdent(s.Table), s.Dialect.Placeholder(1), s.Dialect.Placeholder(2),
	)
	res, err := exec.ExecContext(ctx, query, s.Namespace, string(id))
	if err != nil {
		return &HistoryStoreError{Op: "unrecord " + string(id), Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &HistoryStoreError{Op: "unrecord " + string(id), Err: err}
	}
	if n == 0 {
		return &HistoryStoreError{
			Op:  "unrecord " + string(id),
			Err: errors.New("no such record"),
		}
	}
	return nil
}

// appliedIDs projects records onto their identities.
func appliedIDs(recs []HistoryRecord) []ID {
	ids := make([]ID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
