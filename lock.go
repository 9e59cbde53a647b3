package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// DefaultLockKey is the lock key used when none is configured.
const DefaultLockKey = "schema_migrations"

// Locker provides mutual exclusion for migration runs across processes or
// goroutines. TryAcquire never waits: if the lock is held it returns a
// *LockContentionError.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func() error, err error)
}

// LockerFor returns the default locker for a dialect: a Postgres advisory
// lock, or a process-local lock for SQLite, whose writers are serialized by
// the database file lock.
func LockerFor(db *sql.DB, d Dialect) Locker {
	if _, ok := d.(Postgres); ok {
		return NewPostgresLock(db)
	}
	return processLock
}

// processLock is shared by every migrator in the process that has no
// database-level lock.
var processLock = NewLocalLock()

// PostgresLock implements Locker using session-level PostgreSQL advisory
// locks held on a dedicated connection.
type PostgresLock struct {
	db *sql.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// TryAcquire takes pg_try_advisory_lock on the hashed key. The returned
// release function unlocks and returns the connection to the pool.
func (l *PostgresLock) TryAcquire(ctx context.Context, key string) (func() error, error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, &LockContentionError{Key: key}
	}

	release := func() error {
		defer conn.Close()
		// Unlock must run even if the caller's context was cancelled.
		_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		if err != nil {
			return fmt.Errorf("pg_advisory_unlock(%d): %w", lockID, err)
		}
		return nil
	}
	return release, nil
}

// LocalLock implements Locker with process-local mutexes keyed by name.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLock creates a new LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

// TryAcquire takes the mutex for key without waiting.
func (l *LocalLock) TryAcquire(ctx context.Context, key string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, &LockContentionError{Key: key}
	}
	var once sync.Once
	return func() error {
		once.Do(m.Unlock)
		return nil
	}, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
