package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid matches every *ValidationError.
	ErrInvalid = errors.New("invalid request")
	// ErrHasDependents is returned when deleting a task other tasks depend on.
	ErrHasDependents = errors.New("task has dependents")
	// ErrTaskExists is returned when a caller-chosen task id is taken.
	ErrTaskExists = errors.New("task already exists")
)

// ValidationError reports a request field the planner refused.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
