// Package main provides schemamig, a CLI for applying and reverting
// versioned schema migrations.
//
// The CLI supports:
//   - up: Apply pending migrations, optionally up to a target
//   - down: Revert applied migrations by target, step count or all
//   - status: List registered migrations and whether they are applied
//   - version: Print the newest applied migration
//   - config show: Print the effective configuration
//
// Usage:
//
//	schemamig [flags] <command>
//
// Migrations are read from --dir (default "migrations") or, with --builtin,
// from the compiled-in reference set.
package main

func main() {
	Execute()
}
