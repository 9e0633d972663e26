package schedule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected is reported when the dependency graph contains a
	// circular reference. Match it with errors.Is; the concrete value is a
	// *CycleError.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrProjectNotFound and ErrTaskNotFound belong to the store boundary.
	// The algorithms never raise them; they are declared here so callers
	// can match a single set of sentinels across layers.
	ErrProjectNotFound = errors.New("project not found")
	ErrTaskNotFound    = errors.New("task not found")

	// ErrDuplicateTask marks a malformed task set where an id repeats.
	ErrDuplicateTask = errors.New("duplicate task id")
)

// CycleError describes a dependency cycle found by the sequencer.
//
// TaskID is the task that was reached a second time while still on the
// traversal stack. Path lists the cycle starting and ending at TaskID,
// following dependency edges (each element depends on the next).
type CycleError struct {
	TaskID string
	Path   []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s at task %s", ErrCycleDetected, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }
