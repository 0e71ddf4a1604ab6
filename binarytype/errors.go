package binarytype

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is matched by every *TypeMismatchError.
	ErrTypeMismatch = errors.New("binarytype: type mismatch")

	// ErrInternal is matched by every *InternalError. It marks a defect in the type
	// tables, so retrying the operation reproduces it.
	ErrInternal = errors.New("binarytype: internal consistency error")
)

// TypeMismatchError is returned when a value or an observed wire code breaks the
// contract of a declared type.
type TypeMismatchError struct {
	// Observed is the offending code. When NonNull is set the offender was a
	// non-null value and Observed is unused.
	Observed TypeCode
	NonNull  bool
	Declared TypeCode
}

func (e *TypeMismatchError) Error() string {
	observed := "not null"
	if !e.NonNull {
		observed = e.Observed.String()
	}
	return fmt.Sprintf("%s: %s cannot be used as %s", ErrTypeMismatch, observed, e.Declared)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// InternalError reports a lookup the tables cannot answer.
type InternalError struct {
	Op   string
	Code TypeCode
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s of type code %d", ErrInternal, e.Op, int8(e.Code))
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}
