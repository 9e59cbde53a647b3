package migrator

import (
	"slices"
	"sort"
)

// Registry is the validated, strictly ordered collection of all known
// migration units. It is immutable once built.
type Registry struct {
	units []Migration
	index map[ID]int
}

// NewRegistry loads every source and validates the result.
//
// Parameters:
//   - sources: The migration sources to merge.
//
// Returns:
//   - *Registry: The ordered registry.
//   - error: A load error or a registry error (duplicate identity, invalid
//     identity, invalid unit).
func NewRegistry(sources ...MigrationSource) (*Registry, error) {
	var all []Migration
	for _, src := range sources {
		migs, err := src.LoadMigrations()
		if err != nil {
			return nil, err
		}
		all = append(all, migs...)
	}
	return buildRegistry(all)
}

// MustRegistry is like NewRegistry over Go-declared units but panics on
// error. Intended for package-level registries whose contents are fixed at
// compile time.
func MustRegistry(migs ...*Migration) *Registry {
	r, err := NewRegistry(GoSource(migs))
	if err != nil {
		panic(err)
	}
	return r
}

func buildRegistry(all []Migration) (*Registry, error) {
	r := &Registry{index: make(map[ID]int, len(all))}
	keys := make(map[string]ID, len(all))
	for _, m := range all {
		if err := m.validate(); err != nil {
			return nil, err
		}
		p, err := ParseID(m.ID)
		if err != nil {
			return nil, err
		}
		if prev, dup := keys[p.key()]; dup {
			return nil, &DuplicateIdentityError{ID: m.ID, Conflict: prev}
		}
		keys[p.key()] = m.ID
		r.units = append(r.units, m.clone())
	}
	sort.Slice(r.units, func(i, j int) bool { return r.units[i].ID < r.units[j].ID })
	for i, m := range r.units {
		r.index[m.ID] = i
	}
	return r, nil
}

// OrderedUnits returns the units sorted ascending by identity.
func (r *Registry) OrderedUnits() []Migration {
	out := make([]Migration, len(r.units))
	for i, m := range r.units {
		out[i] = m.clone()
	}
	return out
}

// IDs returns the ordered identities.
func (r *Registry) IDs() []ID {
	ids := make([]ID, len(r.units))
	for i, m := range r.units {
		ids[i] = m.ID
	}
	return ids
}

// Len returns the number of units.
func (r *Registry) Len() int { return len(r.units) }

// Lookup returns the unit with the given identity.
func (r *Registry) Lookup(id ID) (Migration, bool) {
	i, ok := r.index[id]
	if !ok {
		return Migration{}, false
	}
	return r.units[i].clone(), true
}

// Latest returns the newest identity, or "" for an empty registry.
func (r *Registry) Latest() ID {
	if len(r.units) == 0 {
		return ""
	}
	return r.units[len(r.units)-1].ID
}

// CheckHistory verifies that applied is a contiguous prefix of the registry
// and returns the number of applied units.
//
// Parameters:
//   - applied: The identities recorded in the history store.
//
// Returns:
//   - int: The length of the applied prefix.
//   - error: An *OrderingViolationError if the history references unknown
//     units or skips registered ones.
func (r *Registry) CheckHistory(applied []ID) (int, error) {
	var (
		unknown []ID
		seen    = make(map[ID]bool, len(applied))
	)
	for _, id := range applied {
		if _, ok := r.index[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		seen[id] = true
	}
	slices.Sort(unknown)

	var gaps []ID
	for i, m := range r.units {
		if seen[m.ID] {
			continue
		}
		if r.anyAppliedAfter(i, seen) {
			gaps = append(gaps, m.ID)
			continue
		}
		if len(unknown) > 0 || len(gaps) > 0 {
			break
		}
		return i, nil
	}
	if len(unknown) > 0 || len(gaps) > 0 {
		return 0, &OrderingViolationError{Unknown: unknown, Gaps: gaps}
	}
	return len(r.units), nil
}

func (r *Registry) anyAppliedAfter(i int, seen map[ID]bool) bool {
	for _, m := range r.units[i+1:] {
		if seen[m.ID] {
			return true
		}
	}
	return false
}
