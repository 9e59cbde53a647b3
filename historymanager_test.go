package migrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLHistoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hs := NewSQLHistoryStore(db, SQLite{})
	hs.Now = func() time.Time { return now }

	require.NoError(t, hs.Ensure(ctx))
	require.NoError(t, hs.Ensure(ctx), "Ensure must be idempotent")

	recs, err := hs.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, hs.Record(ctx, db, "20240102000000B"))
	require.NoError(t, hs.Record(ctx, db, "20240101000000A"))

	recs, err = hs.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []ID{"20240101000000A", "20240102000000B"}, appliedIDs(recs))
	assert.True(t, now.Equal(recs[0].AppliedAt), "applied_at = %v", recs[0].AppliedAt)

	require.NoError(t, hs.Unrecord(ctx, db, "20240101000000A"))
	recs, err = hs.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ID{"20240102000000B"}, appliedIDs(recs))
}

func TestSQLHistoryStoreDuplicateRecord(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	hs := NewSQLHistoryStore(db, SQLite{})
	require.NoError(t, hs.Ensure(ctx))
	require.NoError(t, hs.Record(ctx, db, "20240101000000A"))

	err := hs.Record(ctx, db, "20240101000000A")
	var he *HistoryStoreError
	require.True(t, errors.As(err, &he), "got %v", err)
	assert.True(t, SQLite{}.IsUniqueViolation(err))
	assert.Contains(t, err.Error(), "already recorded")
}

func TestSQLHistoryStoreUnrecordMissing(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	hs := NewSQLHistoryStore(db, SQLite{})
	require.NoError(t, hs.Ensure(ctx))

	err := hs.Unrecord(ctx, db, "20240101000000A")
	var he *HistoryStoreError
	require.True(t, errors.As(err, &he), "got %v", err)
}

func TestSQLHistoryStoreWithoutTable(t *testing.T) {
	db := newSQLiteDB(t)
	_, err := NewSQLHistoryStore(db, SQLite{}).Applied(context.Background())
	var he *HistoryStoreError
	assert.True(t, errors.As(err, &he), "got %v", err)
}

func TestSQLHistoryStoreNamespacesAndTables(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	base := NewSQLHistoryStore(db, SQLite{}).WithTable("migration_history")
	app := base.WithNamespace("app")
	audit := base.WithNamespace("audit")

	assert.Equal(t, DefaultNamespace, base.Namespace)
	require.NoError(t, app.Ensure(ctx))
	require.NoError(t, app.Record(ctx, db, "20240101000000A"))
	require.NoError(t, audit.Record(ctx, db, "20240101000000A"))
	require.NoError(t, audit.Record(ctx, db, "20240102000000B"))

	recs, err := app.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ID{"20240101000000A"}, appliedIDs(recs))

	recs, err = audit.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ID{"20240101000000A", "20240102000000B"}, appliedIDs(recs))

	ok, err := SQLite{}.TableExists(ctx, db, DefaultHistoryTable)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Records written inside a transaction disappear with its rollback.
func TestSQLHistoryStoreRecordInTransaction(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	hs := NewSQLHistoryStore(db, SQLite{})
	require.NoError(t, hs.Ensure(ctx))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, hs.Record(ctx, tx, "20240101000000A"))
	require.NoError(t, tx.Rollback())

	recs, err := hs.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
