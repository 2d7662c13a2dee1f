package relorm

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure cases
var (
	// ErrInvalidState is returned when a relation is accessed through a record without an id
	ErrInvalidState = errors.New("relorm: invalid state")

	// ErrUnknownRelation is returned when the relation is not declared on the entity type
	ErrUnknownRelation = errors.New("relorm: unknown relation")

	// ErrUnsupportedOperation is returned when an operation does not apply to the relation kind
	ErrUnsupportedOperation = errors.New("relorm: unsupported operation")

	// ErrTypeMismatch is returned when an entity or query type differs from the relation's foreign type
	ErrTypeMismatch = errors.New("relorm: type mismatch")

	// ErrInvalidArgument is returned for empty ids and malformed arguments
	ErrInvalidArgument = errors.New("relorm: invalid argument")

	// ErrRecordNotFound is returned when a query returns no results
	ErrRecordNotFound = errors.New("relorm: record not found")

	// ErrInvalidConfig is returned when entity or relation metadata is invalid
	ErrInvalidConfig = errors.New("relorm: invalid relation config")
)

// QueryError wraps database errors with query context for better debugging
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, INSERT, UPDATE, DELETE
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("relorm: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, formatArgs(e.Args))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RelationError ties a failure to the relation and entity type it happened on.
type RelationError struct {
	Relation   string // Name of the relation
	EntityType string // Owning entity type
	Err        error  // The underlying error
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("relorm: relation '%s' error on entity %s: %v",
		e.Relation, e.EntityType, e.Err)
}

func (e *RelationError) Unwrap() error {
	return e.Err
}

// WrapQueryError wraps a database error with query context
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// relationErr builds a RelationError around a sentinel with a detail message.
func relationErr(entityType, relation string, sentinel error, format string, args ...any) error {
	err := sentinel
	if format != "" {
		err = fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	}
	return &RelationError{
		Relation:   relation,
		EntityType: entityType,
		Err:        err,
	}
}

// IsNotFound checks if the error is ErrRecordNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsUnsupported checks if the error is ErrUnsupportedOperation
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}

// IsTypeMismatch checks if the error is ErrTypeMismatch
func IsTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
