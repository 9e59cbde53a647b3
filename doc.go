// Package migrator provides a versioned schema migration engine: timestamped
// migration units built from structured schema operations (add/drop column,
// create/drop index, raw statements), pluggable sources (Go values, SQL
// directories, embedded filesystems, YAML), a history table, an exclusivity
// lock, and a runner that applies or reverts one unit per transaction.
package migrator
