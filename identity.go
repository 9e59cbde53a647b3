package migrator

import (
	"fmt"
	"regexp"
	"time"
)

// timestampLayout is the 14-digit UTC prefix of every migration identity.
const timestampLayout = "20060102150405"

var idPattern = regexp.MustCompile(`^(\d{14})_?([A-Za-z][A-Za-z0-9_]*)$`)

// ID identifies a migration unit, for example
// "20230412093000ManualEndResultRequired". IDs compare lexicographically in
// chronological order.
type ID string

// ParsedID is the decomposed form of an ID.
type ParsedID struct {
	Timestamp time.Time
	Name      string
}

// ParseID validates id and splits it into its timestamp and name.
//
// Parameters:
//   - id: The identity to parse.
//
// Returns:
//   - ParsedID: The timestamp and name.
//   - error: An *InvalidIdentityError if the identity is malformed.
func ParseID(id ID) (ParsedID, error) {
	m := idPattern.FindStringSubmatch(string(id))
	if m == nil {
		return ParsedID{}, &InvalidIdentityError{
			ID:     id,
			Reason: "want <14-digit UTC timestamp><Name>",
		}
	}
	ts, err := time.ParseInLocation(timestampLayout, m[1], time.UTC)
	if err != nil {
		return ParsedID{}, &InvalidIdentityError{
			ID:     id,
			Reason: fmt.Sprintf("invalid timestamp %s", m[1]),
		}
	}
	return ParsedID{Timestamp: ts, Name: m[2]}, nil
}

// key is the ordering key of the identity with the optional separator
// removed. Two identities with the same key denote the same unit.
func (p ParsedID) key() string {
	return p.Timestamp.Format(timestampLayout) + p.Name
}

// NewID builds an identity from a timestamp and a name.
func NewID(ts time.Time, name string) (ID, error) {
	id := ID(ts.UTC().Format(timestampLayout) + name)
	if _, err := ParseID(id); err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the human-readable part of the identity, or the whole string
// if it does not parse.
func (id ID) Name() string {
	p, err := ParseID(id)
	if err != nil {
		return string(id)
	}
	return p.Name
}

func (id ID) String() string { return string(id) }
