package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Migrator runs the units of a registry against a database and manages the
// history of applied units.
type Migrator struct {
	Registry *Registry
	DB       *sql.DB
	Dialect  Dialect
	History  HistoryStore
	Locker   Locker
	LockKey  string
	Logger   *zap.Logger
}

// Result lists the units a run applied or reverted, in execution order.
type Result struct {
	Direction Direction
	Units     []ID
}

// UnitStatus is the state of one registered unit, or of an applied history
// record whose unit is no longer registered.
type UnitStatus struct {
	ID               ID
	Description      string
	Applied          bool
	AppliedAt        time.Time
	NonTransactional bool
	Unregistered     bool
}

// PlannedUnit is a unit a run would execute, with its rendered SQL.
type PlannedUnit struct {
	ID               ID
	Direction        Direction
	NonTransactional bool
	Statements       []string
}

// NewMigrator returns a new Migrator with a SQL history store in the default
// table and namespace, the default locker for the dialect, and a no-op
// logger.
//
// Parameters:
//   - db: A connection to the target database.
//   - dialect: The dialect of db.
//   - registry: The units to run.
//
// Returns:
//   - *Migrator: A new Migrator instance.
func NewMigrator(db *sql.DB, dialect Dialect, registry *Registry) *Migrator {
	return &Migrator{
		Registry: registry,
		DB:       db,
		Dialect:  dialect,
		History:  NewSQLHistoryStore(db, dialect),
		Locker:   LockerFor(db, dialect),
		LockKey:  DefaultLockKey,
		Logger:   zap.NewNop(),
	}
}

// WithHistory returns a new Migrator with the given history store.
//
// Parameters:
//   - history: The HistoryStore to use.
//
// Returns:
//   - *Migrator: A new Migrator instance.
func (m *Migrator) WithHistory(history HistoryStore) *Migrator {
	c := *m
	c.History = history
	return &c
}

// WithLocker returns a new Migrator with the given locker.
func (m *Migrator) WithLocker(locker Locker) *Migrator {
	c := *m
	c.Locker = locker
	return &c
}

// WithLockKey returns a new Migrator taking the given lock key. Runs that
// share a key exclude each other.
func (m *Migrator) WithLockKey(key string) *Migrator {
	c := *m
	c.LockKey = key
	return &c
}

// WithLogger returns a new Migrator logging to logger.
//
// Parameters:
//   - logger: The zap logger to use. nil disables logging.
//
// Returns:
//   - *Migrator: A new Migrator instance.
func (m *Migrator) WithLogger(logger *zap.Logger) *Migrator {
	c := *m
	if logger == nil {
		logger = zap.NewNop()
	}
	c.Logger = logger
	return &c
}

// MigrateUp applies pending units in ascending order up to and including
// target. An empty target means the newest registered unit.
//
// Parameters:
//   - ctx: Context to use. Cancelling it rolls back the open unit.
//   - target: The identity to migrate up to, or "".
//
// Returns:
//   - Result: The units applied before the run finished or failed.
//   - error: A registry, lock, history or unit error.
func (m *Migrator) MigrateUp(ctx context.Context, target ID) (Result, error) {
	res := Result{Direction: Up}
	err := m.withLock(ctx, func(ctx context.Context) error {
		n, err := m.state(ctx)
		if err != nil {
			return err
		}
		pending, err := m.pendingUp(n, target)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			m.log().Info("schema is up to date")
			return nil
		}
		m.log().Info("applying migrations", zap.Int("count", len(pending)))
		for _, unit := range pending {
			if err := m.runUnit(ctx, unit, Up); err != nil {
				return err
			}
			res.Units = append(res.Units, unit.ID)
		}
		return nil
	})
	return res, err
}

// MigrateDown reverts applied units with an identity greater than target,
// newest first. An empty target reverts every applied unit.
//
// Parameters:
//   - ctx: Context to use. Cancelling it rolls back the open unit.
//   - target: The identity to migrate down to, or "".
//
// Returns:
//   - Result: The units reverted before the run finished or failed.
//   - error: A registry, lock, history or unit error.
func (m *Migrator) MigrateDown(ctx context.Context, target ID) (Result, error) {
	return m.down(ctx, func(applied []Migration) ([]Migration, error) {
		return m.revertAbove(applied, target)
	})
}

// Rollback reverts the newest steps applied units.
func (m *Migrator) Rollback(ctx context.Context, steps int) (Result, error) {
	if steps < 1 {
		return Result{Direction: Down}, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return m.down(ctx, func(applied []Migration) ([]Migration, error) {
		if steps > len(applied) {
			steps = len(applied)
		}
		return reversed(applied[len(applied)-steps:]), nil
	})
}

func (m *Migrator) down(
	ctx context.Context, pick func(applied []Migration) ([]Migration, error),
) (Result, error) {
	res := Result{Direction: Down}
	err := m.withLock(ctx, func(ctx context.Context) error {
		n, err := m.state(ctx)
		if err != nil {
			return err
		}
		toRevert, err := pick(m.Registry.OrderedUnits()[:n])
		if err != nil {
			return err
		}
		if len(toRevert) == 0 {
			m.log().Info("nothing to revert")
			return nil
		}
		m.log().Info("reverting migrations", zap.Int("count", len(toRevert)))
		for _, unit := range toRevert {
			if err := m.runUnit(ctx, unit, Down); err != nil {
				return err
			}
			res.Units = append(res.Units, unit.ID)
		}
		return nil
	})
	return res, err
}

// Status reports every registered unit and whether it is applied. It takes
// no lock and never writes, so it is safe for collaborators to call.
//
// When the history is out of order the rows are still returned, together
// with the *OrderingViolationError, so callers can show what diverged.
// Applied records with no registered unit come last, marked Unregistered.
func (m *Migrator) Status(ctx context.Context) ([]UnitStatus, error) {
	recs, err := m.readHistory(ctx)
	if err != nil {
		return nil, err
	}
	at := make(map[ID]time.Time, len(recs))
	for _, r := range recs {
		at[r.ID] = r.AppliedAt
	}

	units := m.Registry.OrderedUnits()
	out := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		t, ok := at[u.ID]
		out = append(out, UnitStatus{
			ID:               u.ID,
			Description:      u.Description,
			Applied:          ok,
			AppliedAt:        t,
			NonTransactional: u.NonTransactional,
		})
	}

	_, err = m.Registry.CheckHistory(appliedIDs(recs))
	var ov *OrderingViolationError
	if errors.As(err, &ov) {
		for _, id := range ov.Unknown {
			out = append(out, UnitStatus{
				ID:           id,
				Applied:      true,
				AppliedAt:    at[id],
				Unregistered: true,
			})
		}
	}
	return out, err
}

// Version returns the identity of the newest applied unit, or "" if none is
// applied.
func (m *Migrator) Version(ctx context.Context) (ID, error) {
	n, err := m.inspect(ctx)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	return m.Registry.units[n-1].ID, nil
}

// Plan returns the units MigrateUp or MigrateDown would run for target, with
// the SQL each would execute. It does not change the database.
//
// Parameters:
//   - ctx: Context to use.
//   - dir: Up or Down.
//   - target: As for MigrateUp and MigrateDown.
//
// Returns:
//   - []PlannedUnit: The units in execution order.
//   - error: A registry, history or rendering error.
func (m *Migrator) Plan(ctx context.Context, dir Direction, target ID) ([]PlannedUnit, error) {
	n, err := m.inspect(ctx)
	if err != nil {
		return nil, err
	}
	var units []Migration
	switch dir {
	case Up:
		units, err = m.pendingUp(n, target)
	case Down:
		units, err = m.revertAbove(m.Registry.OrderedUnits()[:n], target)
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
	if err != nil {
		return nil, err
	}
	return m.plan(units, dir)
}

// PlanRollback is Plan for Rollback.
func (m *Migrator) PlanRollback(ctx context.Context, steps int) ([]PlannedUnit, error) {
	n, err := m.inspect(ctx)
	if err != nil {
		return nil, err
	}
	applied := m.Registry.OrderedUnits()[:n]
	if steps > len(applied) {
		steps = len(applied)
	}
	if steps < 0 {
		steps = 0
	}
	return m.plan(reversed(applied[len(applied)-steps:]), Down)
}

func (m *Migrator) plan(units []Migration, dir Direction) ([]PlannedUnit, error) {
	out := make([]PlannedUnit, 0, len(units))
	for _, u := range units {
		stmts, err := u.Statements(m.Dialect, dir)
		if err != nil {
			return nil, &UnitError{ID: u.ID, Direction: dir, Err: err}
		}
		out = append(out, PlannedUnit{
			ID:               u.ID,
			Direction:        dir,
			NonTransactional: u.NonTransactional,
			Statements:       stmts,
		})
	}
	return out, nil
}

// pendingUp returns the unapplied units up to target, given n applied.
func (m *Migrator) pendingUp(n int, target ID) ([]Migration, error) {
	units := m.Registry.OrderedUnits()
	end := len(units)
	if target != "" {
		i, ok := m.Registry.index[target]
		if !ok {
			return nil, &TargetError{Target: target, Reason: "not a registered migration"}
		}
		if i+1 < n {
			return nil, &TargetError{
				Target: target,
				Reason: fmt.Sprintf("older than the applied head %s; migrate down instead", units[n-1].ID),
			}
		}
		end = i + 1
	}
	return units[n:end], nil
}

// revertAbove returns the applied units newer than target, newest first.
func (m *Migrator) revertAbove(applied []Migration, target ID) ([]Migration, error) {
	start := 0
	if target != "" {
		i, ok := m.Registry.index[target]
		if !ok {
			return nil, &TargetError{Target: target, Reason: "not a registered migration"}
		}
		start = min(i+1, len(applied))
	}
	return reversed(applied[start:]), nil
}

// state bootstraps the history table and returns the length of the applied
// prefix.
func (m *Migrator) state(ctx context.Context) (int, error) {
	if err := m.History.Ensure(ctx); err != nil {
		return 0, err
	}
	recs, err := m.History.Applied(ctx)
	if err != nil {
		return 0, err
	}
	return m.Registry.CheckHistory(appliedIDs(recs))
}

// inspect is the read-only counterpart of state.
func (m *Migrator) inspect(ctx context.Context) (int, error) {
	recs, err := m.readHistory(ctx)
	if err != nil {
		return 0, err
	}
	return m.Registry.CheckHistory(appliedIDs(recs))
}

// readHistory reads the history without creating the table, so read-only
// callers see an empty history on a fresh database.
func (m *Migrator) readHistory(ctx context.Context) ([]HistoryRecord, error) {
	if s, ok := m.History.(*SQLHistoryStore); ok {
		exists, err := m.Dialect.TableExists(ctx, m.DB, s.Table)
		if err != nil {
			return nil, &HistoryStoreError{Op: "read", Err: err}
		}
		if !exists {
			return nil, nil
		}
	}
	return m.History.Applied(ctx)
}

// withLock runs fn while holding the migration lock and always releases it.
func (m *Migrator) withLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	release, err := m.Locker.TryAcquire(ctx, m.LockKey)
	if err != nil {
		var lc *LockContentionError
		if errors.As(err, &lc) {
			m.log().Warn("migration lock is held by another run", zap.String("key", m.LockKey))
		}
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("release migration lock: %w", rerr))
		}
	}()
	return fn(ctx)
}

// runUnit executes one unit in dir and writes its history change. A
// transactional unit commits its operations and history change together.
func (m *Migrator) runUnit(ctx context.Context, unit Migration, dir Direction) error {
	log := m.log().With(zap.String("migration", string(unit.ID)), zap.String("direction", string(dir)))
	start := time.Now()
	for i, op := range unit.Operations {
		log.Debug("operation", zap.Int("step", i+1), zap.String("op", string(op.Kind())))
	}

	var err error
	if unit.NonTransactional {
		log.Warn("migration runs outside a transaction and is not atomic; " +
			"on failure inspect the schema before re-running")
		err = m.runNonTransactional(ctx, unit, dir)
	} else {
		err = m.runTransactional(ctx, unit, dir)
	}
	if err != nil {
		log.Error("migration failed", zap.Error(err))
		return &UnitError{ID: unit.ID, Direction: dir, Err: err}
	}
	log.Info("migration done", zap.Duration("took", time.Since(start)))
	return nil
}

func (m *Migrator) runTransactional(ctx context.Context, unit Migration, dir Direction) (err error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()

	if err := execute(ctx, unit, Schema{Exec: tx, Dialect: m.Dialect}, dir); err != nil {
		return err
	}
	if err := m.writeHistory(ctx, tx, unit.ID, dir); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *Migrator) runNonTransactional(ctx context.Context, unit Migration, dir Direction) (err error) {
	if err := execute(ctx, unit, Schema{Exec: m.DB, Dialect: m.Dialect}, dir); err != nil {
		return err
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	if err := m.writeHistory(ctx, tx, unit.ID, dir); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

func (m *Migrator) writeHistory(ctx context.Context, exec Executor, id ID, dir Direction) error {
	if dir == Down {
		return m.History.Unrecord(ctx, exec, id)
	}
	return m.History.Record(ctx, exec, id)
}

func (m *Migrator) log() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func execute(ctx context.Context, unit Migration, s Schema, dir Direction) error {
	if dir == Down {
		return unit.Rollback(ctx, s)
	}
	return unit.Apply(ctx, s)
}

func reversed(units []Migration) []Migration {
	out := make([]Migration, len(units))
	for i, u := range units {
		out[len(units)-1-i] = u
	}
	return out
}
