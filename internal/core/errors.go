package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a malformed identifier, operator, type or value
	// supplied by the caller. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedConnection is returned when no usable connection was supplied.
	ErrUnsupportedConnection = errors.New("unsupported connection")

	// ErrCacheMiss is returned by ResultCache.Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// ExecutionError carries a driver failure together with the SQL that caused it.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %v [sql: %s]", e.Err, e.SQL)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
