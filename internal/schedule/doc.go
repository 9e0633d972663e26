// Package schedule is the scheduling engine for project tasks.
//
// It orders a project's dependency graph, runs the forward pass of the
// critical path method over it, and materializes the resulting day offsets
// into calendar dates relative to the project start.
//
// Every function in this package is a pure computation over the task slice
// it is handed. Loading tasks and persisting the computed fields is the
// caller's job (see internal/planner), as is serializing concurrent
// recomputations of the same project.
//
// Dependencies that reference ids missing from the task set are tolerated:
// they are treated as already satisfied and contribute no constraint.
package schedule
