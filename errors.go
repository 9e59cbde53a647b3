package migrator

import (
	"errors"
	"fmt"
	"strings"
)

// Causes carried by SchemaOperationError.
var (
	ErrTableNotFound  = errors.New("table does not exist")
	ErrColumnExists   = errors.New("column already exists")
	ErrColumnNotFound = errors.New("column does not exist")
	ErrIndexExists    = errors.New("index already exists")
	ErrIndexNotFound  = errors.New("index does not exist")
	ErrIrreversible   = errors.New("operation has no backward statement")
)

// registryError is implemented by every error raised while building or
// checking the registry. Such errors abort before the schema is touched.
type registryError interface {
	error
	registryError()
}

// IsRegistryError reports whether err is a registry inconsistency
// (duplicate, malformed or out-of-order identities, invalid units).
func IsRegistryError(err error) bool {
	var re registryError
	return errors.As(err, &re)
}

// DuplicateIdentityError is returned when two units share an identity.
// Conflict is set when the other unit spells the same identity differently.
type DuplicateIdentityError struct {
	ID       ID
	Conflict ID
}

func (e *DuplicateIdentityError) Error() string {
	if e.Conflict != "" && e.Conflict != e.ID {
		return fmt.Sprintf("duplicate migration identity %s (same as %s)", e.ID, e.Conflict)
	}
	return fmt.Sprintf("duplicate migration identity %s", e.ID)
}

func (*DuplicateIdentityError) registryError() {}

// InvalidIdentityError is returned for identities that do not follow the
// <timestamp><Name> format.
type InvalidIdentityError struct {
	ID     ID
	Reason string
}

func (e *InvalidIdentityError) Error() string {
	return fmt.Sprintf("invalid migration identity %q: %s", e.ID, e.Reason)
}

func (*InvalidIdentityError) registryError() {}

// InvalidUnitError is returned for a unit whose operations cannot be run or
// reverted safely.
type InvalidUnitError struct {
	ID     ID
	Reason string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("invalid migration %s: %s", e.ID, e.Reason)
}

func (*InvalidUnitError) registryError() {}

// OrderingViolationError is returned when the history is not a contiguous
// prefix of the registry, or references units the registry does not know.
type OrderingViolationError struct {
	Unknown []ID // applied but not registered
	Gaps    []ID // registered, unapplied, but followed by applied units
}

func (e *OrderingViolationError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts,
			fmt.Sprintf("applied migrations missing from registry: %s", joinIDs(e.Unknown)))
	}
	if len(e.Gaps) > 0 {
		parts = append(parts,
			fmt.Sprintf("unapplied migrations precede applied ones: %s", joinIDs(e.Gaps)))
	}
	return "migration history out of order: " + strings.Join(parts, "; ")
}

func (*OrderingViolationError) registryError() {}

// TargetError is returned when a requested target cannot be reached in the
// requested direction.
type TargetError struct {
	Target ID
	Reason string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("invalid target %s: %s", e.Target, e.Reason)
}

func (*TargetError) registryError() {}

// LockContentionError is returned when another run holds the migration lock.
// It is never retried automatically.
type LockContentionError struct {
	Key string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("migration lock %q is held by another run", e.Key)
}

// SchemaOperationError is returned when a primitive fails. The schema is left
// unchanged for that operation.
type SchemaOperationError struct {
	Op     OperationKind
	Table  string
	Object string
	Err    error
}

func (e *SchemaOperationError) Error() string {
	target := e.Table
	if e.Object != "" {
		if target != "" {
			target += "."
		}
		target += e.Object
	}
	if target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *SchemaOperationError) Unwrap() error { return e.Err }

// HistoryStoreError wraps I/O failures on the history table.
type HistoryStoreError struct {
	Op  string
	Err error
}

func (e *HistoryStoreError) Error() string {
	return fmt.Sprintf("history store %s: %v", e.Op, e.Err)
}

func (e *HistoryStoreError) Unwrap() error { return e.Err }

// UnitError names the unit that failed and why. Units before it remain
// committed.
type UnitError struct {
	ID        ID
	Direction Direction
	Err       error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %v", e.ID, e.Direction, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

func joinIDs(ids []ID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}
