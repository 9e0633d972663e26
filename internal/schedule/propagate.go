package schedule

import "time"

// Result is the outcome of a propagation.
type Result struct {
	ProjectID string
	StartDate time.Time
	EndDate   time.Time
	// Duration is the project length in days (the largest EarliestEnd).
	Duration int
	// Tasks holds updated copies of the input tasks in topological order.
	Tasks []Task
}

// Propagate runs the forward pass for one project.
//
// Each task starts on the day the last of its present dependencies ends (day
// 0 when it has none) and ends Duration days later; both offsets are then
// materialized as calendar dates relative to start. The project ends on the
// largest end offset. A project without tasks ends on its start date.
//
// The input tasks are not modified. A cycle fails with ErrCycleDetected and
// no result.
func Propagate(projectID string, start time.Time, tasks []Task) (Result, error) {
	res := Result{
		ProjectID: projectID,
		StartDate: Date(start),
		EndDate:   Date(start),
	}
	if len(tasks) == 0 {
		return res, nil
	}

	idx, err := newIndex(tasks)
	if err != nil {
		return Result{}, err
	}
	order, err := sequence(tasks, idx)
	if err != nil {
		return Result{}, err
	}

	// Offsets computed so far, by input position.
	ends := make([]int, len(tasks))
	out := make([]Task, 0, len(order))
	maxEnd := 0

	for _, pos := range order {
		t := tasks[pos].Clone()

		es := 0
		for _, depID := range t.Dependencies {
			if dep, ok := idx[depID]; ok && ends[dep] > es {
				es = ends[dep]
			}
		}
		t.EarliestStart = es
		t.EarliestEnd = es + t.Duration
		t.ActualStart = AddDays(start, t.EarliestStart)
		t.ActualEnd = AddDays(start, t.EarliestEnd)

		ends[pos] = t.EarliestEnd
		if t.EarliestEnd > maxEnd {
			maxEnd = t.EarliestEnd
		}
		out = append(out, t)
	}

	res.Duration = maxEnd
	res.EndDate = AddDays(start, maxEnd)
	res.Tasks = out
	return res, nil
}

// Project returns p with its end date taken from the result.
func (r Result) Project(p Project) Project {
	p.StartDate = r.StartDate
	p.EndDate = r.EndDate
	return p
}

// ByID indexes the propagated tasks by id.
func (r Result) ByID() map[string]Task {
	m := make(map[string]Task, len(r.Tasks))
	for _, t := range r.Tasks {
		m[t.ID] = t
	}
	return m
}
