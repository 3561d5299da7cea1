package model

import (
	"errors"
	"fmt"
)

var (
	ErrAttributeImmutable = errors.New("model: attribute is immutable")
	ErrPrimaryKeyChange   = errors.New("model: primary key cannot change once persisted")
	ErrInvalidSchema      = errors.New("model: invalid schema")
	ErrUnknownField       = errors.New("model: unknown field")
	ErrConflictingUpdate  = errors.New("model: conflicting update")
)

// ValidationError reports a field whose value failed a check before a write.
type ValidationError struct {
	Model string
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: %s.%s: validation failed for %v: %v", e.Model, e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func schemaErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSchema}, args...)...)
}

// ErrMissingKey is returned when a record lacks a primary key attribute.
var ErrMissingKey = errors.New("model: missing primary key attribute")
