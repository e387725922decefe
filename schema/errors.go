package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is returned when a value does not fit a column's DataType.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDimensionMismatch is returned when a vector length differs from the
	// declared dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNullViolation is returned when NULL is written to a NOT NULL column.
	ErrNullViolation = errors.New("null value violates not-null constraint")

	// ErrCorruptRow is returned when an encoded row cannot be decoded.
	ErrCorruptRow = errors.New("corrupt row encoding")
)

// DimensionError reports a vector dimensionality mismatch.
//
// It matches ErrDimensionMismatch with errors.Is.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// TypeError reports a value that cannot be converted to a column type.
//
// It matches ErrTypeMismatch with errors.Is.
type TypeError struct {
	Want   DataType
	Got    Kind
	Reason string
}

func (e *TypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("type mismatch: cannot use %s as %s: %s", e.Got, e.Want, e.Reason)
	}
	return fmt.Sprintf("type mismatch: cannot use %s as %s", e.Got, e.Want)
}

func (e *TypeError) Unwrap() error { return ErrTypeMismatch }
