package primitive

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrValidation matches every *ValidationError with errors.Is.
var ErrValidation = errors.New("primitive: validation failed")

// Constraint names reported in ValidationError.Constraint.
const (
	ConstraintLength    = "length"
	ConstraintMaxLength = "max_length"
	ConstraintType      = "type"
	ConstraintRange     = "range"
	ConstraintXML       = "xml"
	ConstraintNull      = "null"
	ConstraintLiteral   = "literal"
)

// ValidationError reports a data-dependent conversion failure. The message is
// meant for clients and names the violated constraint.
type ValidationError struct {
	Constraint string
	Value      any
	Target     reflect.Type
	Message    string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(constraint string, value any, target reflect.Type, format string, args ...any) *ValidationError {
	return &ValidationError{
		Constraint: constraint,
		Value:      value,
		Target:     target,
		Message:    fmt.Sprintf(format, args...),
	}
}

// ArgumentError is raised (as a panic value) when a required argument is
// missing. It marks a programming error in the caller, not bad data.
type ArgumentError struct {
	Name string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("primitive: argument %q must not be nil", e.Name)
}
