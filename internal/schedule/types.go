package schedule

import (
	"fmt"
	"time"
)

// Status is the workflow state of a task. It does not influence scheduling.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is the schedule-relevant view of a project task.
//
// EarliestStart, EarliestEnd, ActualStart and ActualEnd are a derived cache:
// they are stale after any structural change (duration, dependencies, task
// added or removed) until the project is propagated again.
type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name,omitempty"`
	Status       Status   `json:"status,omitempty"`
	Duration     int      `json:"duration"`
	Dependencies []string `json:"dependencies,omitempty"`

	EarliestStart int       `json:"earliest_start"`
	EarliestEnd   int       `json:"earliest_end"`
	ActualStart   time.Time `json:"actual_start,omitzero"`
	ActualEnd     time.Time `json:"actual_end,omitzero"`
}

// Clone returns a copy of t that shares no memory with it.
func (t Task) Clone() Task {
	if t.Dependencies != nil {
		t.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return t
}

// DependsOn reports whether id is one of the task's dependencies.
func (t Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Project is the schedule-relevant view of a project.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date,omitzero"`
}

// Date truncates t to its calendar date, expressed as UTC midnight.
// The wall-clock date of t in its own location is kept.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts the calendar date of t by n whole days.
func AddDays(t time.Time, n int) time.Time {
	return Date(t).AddDate(0, 0, n)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// index resolves task ids to positions in a task slice.
type index map[string]int

func newIndex(tasks []Task) (index, error) {
	idx := make(index, len(tasks))
	for i, t := range tasks {
		if _, dup := idx[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		idx[t.ID] = i
	}
	return idx, nil
}
