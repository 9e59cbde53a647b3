// Package cli provides shared configuration and utilities for the schemamig CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	migrator "github.com/aatuh/schemamigrator"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitGeneral   = 1
	ExitConfig    = 2
	ExitRegistry  = 3
	ExitDBConnect = 4
	ExitLock      = 5
	ExitOperation = 6
	ExitHistory   = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitGeneral
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// RegistryError creates an ExitError with ExitRegistry code.
func RegistryError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitRegistry, Message: msg, Err: err}
}

// DBConnectError creates an ExitError with ExitDBConnect code.
func DBConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitDBConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}

// MigrationError creates an ExitError whose code follows the kind of
// migrator error wrapped in err. History failures win over the unit that
// carried them.
func MigrationError(msg string, err error) *ExitError {
	var (
		lockErr    *migrator.LockContentionError
		historyErr *migrator.HistoryStoreError
		opErr      *migrator.SchemaOperationError
		unitErr    *migrator.UnitError
	)
	code := ExitGeneral
	switch {
	case migrator.IsRegistryError(err):
		code = ExitRegistry
	case errors.As(err, &lockErr):
		code = ExitLock
	case errors.As(err, &historyErr):
		code = ExitHistory
	case errors.As(err, &opErr), errors.As(err, &unitErr):
		code = ExitOperation
	}
	return &ExitError{Code: code, Message: msg, Err: err}
}
