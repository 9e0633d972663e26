package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskplan/internal/schedule"
)

var (
	ErrClosed = errors.New("storage closed")
	ErrExists = errors.New("already exists")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "memory": nothing is persisted
//
// An empty Driver means "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactEvery is the number of journal records between snapshots
	// (file only; 0 means default).
	CompactEvery int
}

// Store is the persistence API used by the planner.
//
// Reads return copies; callers may modify them freely.
type Store interface {
	CreateProject(ctx context.Context, p schedule.Project) error
	GetProject(ctx context.Context, id string) (schedule.Project, error)
	ListProjects(ctx context.Context) ([]schedule.Project, error)
	// DeleteProject removes the project and all of its tasks.
	DeleteProject(ctx context.Context, id string) error

	GetTask(ctx context.Context, id string) (schedule.Task, error)
	// ListTasks returns the tasks of one project in creation order.
	ListTasks(ctx context.Context, projectID string) ([]schedule.Task, error)

	// Commit applies c atomically: either everything is written or nothing.
	Commit(ctx context.Context, c Commit) error
	// Update reads a project and its tasks, passes them to fn and commits
	// the returned Commit, holding the store's write lock throughout. Writers
	// in other processes sharing the same path are locked out as well. A nil
	// Commit or an error from fn writes nothing; the error is returned as is.
	// fn must not call back into the store.
	Update(ctx context.Context, projectID string, fn UpdateFunc) error

	Close() error
}

// UpdateFunc computes the write for one project from its stored state.
type UpdateFunc func(p schedule.Project, tasks []schedule.Task) (*Commit, error)

// Commit is one atomic write against a single project.
//
// Project carries the start and end date to store; name and description are
// left as stored, and the project must exist. Upserts insert new tasks
// (appended to the creation order) or replace existing ones in full; every
// upserted task must belong to Project. Dates rewrites only the derived
// fields of existing tasks of the project. Deletes names task ids to remove;
// unknown ids are ignored.
type Commit struct {
	Project schedule.Project `json:"project"`
	Upserts []schedule.Task  `json:"upserts,omitempty"`
	Dates   []TaskDates      `json:"dates,omitempty"`
	Deletes []string         `json:"deletes,omitempty"`
}

// TaskDates is the part of a task a propagation computes.
type TaskDates struct {
	ID            string    `json:"id"`
	EarliestStart int       `json:"earliest_start"`
	EarliestEnd   int       `json:"earliest_end"`
	ActualStart   time.Time `json:"actual_start,omitzero"`
	ActualEnd     time.Time `json:"actual_end,omitzero"`
}

// DatesOf returns the derived fields of t.
func DatesOf(t schedule.Task) TaskDates {
	return TaskDates{
		ID:            t.ID,
		EarliestStart: t.EarliestStart,
		EarliestEnd:   t.EarliestEnd,
		ActualStart:   t.ActualStart,
		ActualEnd:     t.ActualEnd,
	}
}

func (d TaskDates) applyTo(t *schedule.Task) {
	t.EarliestStart = d.EarliestStart
	t.EarliestEnd = d.EarliestEnd
	t.ActualStart = d.ActualStart
	t.ActualEnd = d.ActualEnd
}

func (c Commit) validate() error {
	if c.Project.ID == "" {
		return errors.New("commit: project id is required")
	}
	for _, t := range c.Upserts {
		if t.ID == "" {
			return errors.New("commit: task id is required")
		}
		if t.ProjectID != c.Project.ID {
			return fmt.Errorf("commit: task %s belongs to project %q, not %q", t.ID, t.ProjectID, c.Project.ID)
		}
	}
	for _, d := range c.Dates {
		if d.ID == "" {
			return errors.New("commit: task id is required")
		}
	}
	return nil
}

func projectNotFound(id string) error {
	return fmt.Errorf("%w: %s", schedule.ErrProjectNotFound, id)
}

func taskNotFound(id string) error {
	return fmt.Errorf("%w: %s", schedule.ErrTaskNotFound, id)
}
