package migrator

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// Direction is the way a unit is executed.
type Direction string

// Directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration is one migration unit: an identity and the operations that move
// the schema forward. The backward sequence is each operation's inverse, run
// in reverse order.
type Migration struct {
	ID          ID
	Description string
	Operations  []Operation
	// NonTransactional marks units whose DDL cannot run inside a
	// transaction (e.g. concurrent index builds). Such units are not atomic.
	NonTransactional bool
}

// NewMigration returns a new migration.
//
// Parameters:
//   - id: The identity of the migration.
//   - ops: The forward operations in execution order.
//
// Returns:
//   - *Migration: A new migration.
func NewMigration(id ID, ops ...Operation) *Migration {
	return &Migration{ID: id, Operations: ops}
}

// WithDescription returns a new Migration with the given description.
func (m *Migration) WithDescription(desc string) *Migration {
	c := m.clone()
	c.Description = desc
	return &c
}

// WithOperations returns a new Migration with the given operations.
//
// Parameters:
//   - ops: The forward operations in execution order.
//
// Returns:
//   - *Migration: A new migration.
func (m *Migration) WithOperations(ops ...Operation) *Migration {
	c := m.clone()
	c.Operations = slices.Clone(ops)
	return &c
}

// WithNonTransactional returns a new Migration with the non-transactional
// flag set.
func (m *Migration) WithNonTransactional(nonTx bool) *Migration {
	c := m.clone()
	c.NonTransactional = nonTx
	return &c
}

// Name returns the human-readable part of the identity.
func (m Migration) Name() string { return m.ID.Name() }

// Apply executes the forward operations in declared order.
//
// Parameters:
//   - ctx: Context to use.
//   - s: The schema handle to run against.
//
// Returns:
//   - error: The first failing operation's error.
func (m Migration) Apply(ctx context.Context, s Schema) error {
	for i, op := range m.Operations {
		if err := op.ExecuteUp(ctx, s); err != nil {
			return fmt.Errorf("up step %d: %w", i+1, err)
		}
	}
	return nil
}

// Rollback executes the backward operations in reverse declared order, so
// later operations are undone before the ones they depend on.
//
// Parameters:
//   - ctx: Context to use.
//   - s: The schema handle to run against.
//
// Returns:
//   - error: The first failing operation's error.
func (m Migration) Rollback(ctx context.Context, s Schema) error {
	for i := len(m.Operations) - 1; i >= 0; i-- {
		op := m.Operations[i]
		if err := op.ExecuteDown(ctx, s); err != nil {
			return fmt.Errorf("down step %d: %w", i+1, err)
		}
	}
	return nil
}

// Statements renders the SQL the unit would run in the given direction.
func (m Migration) Statements(d Dialect, dir Direction) ([]string, error) {
	var out []string
	for i := range m.Operations {
		op := m.Operations[i]
		if dir == Down {
			op = m.Operations[len(m.Operations)-1-i]
		}
		stmts, err := op.Statements(d, dir)
		if err != nil {
			return nil, fmt.Errorf("%s step: %w", op.Kind(), err)
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func (m Migration) validate() error {
	if _, err := ParseID(m.ID); err != nil {
		return err
	}
	if len(m.Operations) == 0 {
		return &InvalidUnitError{ID: m.ID, Reason: "no operations defined"}
	}
	for i, op := range m.Operations {
		if isNilOperation(op) {
			return &InvalidUnitError{ID: m.ID, Reason: fmt.Sprintf("step %d is nil", i+1)}
		}
		if err := op.validate(); err != nil {
			return &InvalidUnitError{ID: m.ID, Reason: fmt.Sprintf("step %d: %v", i+1, err)}
		}
		if concurrentIndex(op) && !m.NonTransactional {
			return &InvalidUnitError{
				ID:     m.ID,
				Reason: fmt.Sprintf("step %d builds an index concurrently in a transactional unit", i+1),
			}
		}
	}
	return nil
}

func (m Migration) clone() Migration {
	c := m
	c.Operations = slices.Clone(m.Operations)
	return c
}

// isNilOperation reports whether op is nil or a nil pointer to an
// operation.
func isNilOperation(op Operation) bool {
	if op == nil {
		return true
	}
	v := reflect.ValueOf(op)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func concurrentIndex(op Operation) bool {
	switch o := op.(type) {
	case CreateIndex:
		return o.Concurrently
	case DropIndex:
		return o.Concurrently
	case *CreateIndex:
		return o.Concurrently
	case *DropIndex:
		return o.Concurrently
	}
	return false
}
