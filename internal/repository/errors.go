package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the caller supplied an unusable value.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)

// Unique fields reported by ConflictError.
const (
	FieldEmail    = "email"
	FieldUniqueID = "unique_id"
)

// ConflictError reports a unique constraint violation on Field.
type ConflictError struct {
	Field      string
	Constraint string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("repository: unique constraint %q violated", e.Constraint)
	}
	return fmt.Sprintf("repository: duplicate %s", e.Field)
}

// IsConflict reports whether err is a unique violation on field. An empty field matches any conflict.
func IsConflict(err error, field string) bool {
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		return false
	}
	return field == "" || conflict.Field == field
}
