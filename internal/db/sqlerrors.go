package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExceeded is returned when a write transaction is retried more
// than the max allowed number of times without success.
var ErrRetriesExceeded = errors.New("db tx retries exceeded")

// MapSQLError attempts to interpret a given error as a database agnostic SQL
// error.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}

	return err
}

// parseSqliteError classifies a sqlite error into one of the database
// agnostic error types callers can branch on.
func parseSqliteError(sqliteErr sqlite3.Error) error {
	switch sqliteErr.Code {
	// Unique constraint violations surface conflicts such as spawning an
	// actor that already exists.
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {

			return &ErrSQLUniqueConstraintViolation{
				DBError: sqliteErr,
			}
		}

		return fmt.Errorf("sqlite constraint error: %w", sqliteErr)

	// The database is busy or locked, the transaction should be retried.
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &ErrSerializationError{
			DBError: sqliteErr,
		}

	case sqlite3.ErrError:
		if strings.Contains(sqliteErr.Error(), "no such table") {
			return &ErrSchemaError{
				DBError: sqliteErr,
			}
		}

		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)

	default:
		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
	}
}

// ErrSQLUniqueConstraintViolation is an error type which represents a
// database agnostic SQL unique constraint violation.
type ErrSQLUniqueConstraintViolation struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrSQLUniqueConstraintViolation) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrSQLUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DBError)
}

// IsUniqueConstraintError returns true if the given error is a unique
// constraint violation.
func IsUniqueConstraintError(err error) bool {
	var uniqueErr *ErrSQLUniqueConstraintViolation
	return errors.As(err, &uniqueErr)
}

// ErrSerializationError is an error type which represents a database agnostic
// error that a transaction couldn't be serialized with other concurrent db
// transactions.
type ErrSerializationError struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrSerializationError) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrSerializationError) Error() string {
	return e.DBError.Error()
}

// IsSerializationError returns true if the given error is a serialization
// error.
func IsSerializationError(err error) bool {
	var serializationError *ErrSerializationError
	return errors.As(err, &serializationError)
}

// ErrSchemaError is an error type which represents a database agnostic error
// that the schema of the database is incorrect for the given query. Schema
// errors are not recoverable by retrying.
type ErrSchemaError struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrSchemaError) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrSchemaError) Error() string {
	return e.DBError.Error()
}

// IsSchemaError returns true if the given error is a schema error.
func IsSchemaError(err error) bool {
	var schemaError *ErrSchemaError
	return errors.As(err, &schemaError)
}
