package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskplan/internal/eventbus"
	"taskplan/internal/schedule"
	"taskplan/internal/storage"
	logx "taskplan/pkg/logx"
)

// Service is the write path for projects and tasks.
//
// Every structural edit runs under the project's lock as
// load -> edit -> propagate -> commit. If propagation fails (for example on a
// cycle) nothing is written. Events are published only after a commit.
type Service struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	locks *projectLocks
	newID func() string
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithIDGenerator replaces the uuid generator used for new projects and tasks.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		locks: newProjectLocks(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ProjectInput describes a new project. ID is generated when empty.
type ProjectInput struct {
	ID          string
	Name        string
	Description string
	StartDate   time.Time
}

// TaskInput describes a new task. ID is generated when empty and Status
// defaults to pending.
type TaskInput struct {
	ID           string
	Name         string
	Status       schedule.Status
	Duration     int
	Dependencies []string
}

// TaskPatch lists the fields to change on a task; nil fields are kept.
type TaskPatch struct {
	Name         *string
	Status       *schedule.Status
	Duration     *int
	Dependencies *[]string
}

func (p TaskPatch) structural() bool { return p.Duration != nil || p.Dependencies != nil }

// View is the stored schedule of one project.
type View struct {
	Project schedule.Project
	// Tasks in topological order.
	Tasks    []schedule.Task
	Critical []string
	Slack    map[string]int
}

// IsCritical reports whether the task with id is on the critical path.
func (v View) IsCritical(id string) bool { return slices.Contains(v.Critical, id) }

// change is what an edit wants committed.
type change struct {
	project schedule.Project
	// tasks is the full task set of the project after the edit.
	tasks   []schedule.Task
	deletes []string
	// touched lists tasks whose non-derived fields changed.
	touched []string
	// recompute requests a propagation; otherwise only touched tasks and
	// the project row are written.
	recompute bool
	events    []eventbus.Event
}

type outcome struct {
	result  schedule.Result
	written bool
}

// apply serializes edit against other writers of the same project. The
// store runs load, edit, propagate and commit under its write lock, so a
// writer in another process cannot slip in between the read and the write.
func (s *Service) apply(ctx context.Context, projectID string, edit func(p schedule.Project, tasks []schedule.Task) (change, error)) (outcome, error) {
	unlock, err := s.locks.acquire(ctx, projectID)
	if err != nil {
		return outcome{}, err
	}
	defer unlock()

	var (
		ch  change
		out outcome
	)
	err = s.store.Update(ctx, projectID, func(p schedule.Project, stored []schedule.Task) (*storage.Commit, error) {
		var err error
		if ch, err = edit(p, cloneTasks(stored)); err != nil {
			return nil, err
		}
		c, res, err := s.plan(p, stored, ch)
		if err != nil {
			return nil, err
		}
		out = outcome{result: res, written: c != nil}
		return c, nil
	})
	if err != nil {
		return outcome{}, err
	}
	if !out.written {
		return out, nil
	}

	res := out.result
	for _, e := range ch.events {
		s.publish(e)
	}
	if ch.recompute {
		s.publish(eventbus.Event{Type: eventbus.TypeScheduleUpdated, Data: eventbus.ScheduleUpdated{
			ProjectID: res.ProjectID,
			StartDate: res.StartDate,
			EndDate:   res.EndDate,
			Duration:  res.Duration,
			Tasks:     len(res.Tasks),
			Critical:  taskIDs(schedule.CriticalPath(res.Tasks)),
		}})
		s.log.Debug("schedule updated",
			logx.String("project_id", projectID),
			logx.Date("end_date", res.EndDate),
			logx.Int("duration", res.Duration),
			logx.Int("tasks", len(res.Tasks)),
		)
	}
	return out, nil
}

// plan turns an edit into the commit to write, or nil when nothing changed.
// Touched tasks are written in full; every other task only gets its derived
// dates rewritten, and only when they moved.
func (s *Service) plan(p schedule.Project, stored []schedule.Task, ch change) (*storage.Commit, schedule.Result, error) {
	if !ch.recompute {
		if len(ch.touched) == 0 && len(ch.deletes) == 0 {
			return nil, schedule.Result{}, nil
		}
		c := &storage.Commit{Project: ch.project, Deletes: ch.deletes}
		for _, t := range ch.tasks {
			if slices.Contains(ch.touched, t.ID) {
				c.Upserts = append(c.Upserts, t)
			}
		}
		return c, schedule.Result{}, nil
	}

	res, err := schedule.Propagate(ch.project.ID, ch.project.StartDate, ch.tasks)
	if err != nil {
		s.log.Warn("schedule rejected",
			logx.String("project_id", ch.project.ID),
			logx.Err(err),
		)
		return nil, schedule.Result{}, err
	}
	project := res.Project(ch.project)
	if len(ch.deletes) == 0 && len(ch.touched) == 0 && sameSchedule(p, stored, project, res.Tasks) {
		return nil, res, nil
	}

	before := make(map[string]schedule.Task, len(stored))
	for _, t := range stored {
		before[t.ID] = t
	}
	c := &storage.Commit{Project: project, Deletes: ch.deletes}
	for _, t := range res.Tasks {
		old, ok := before[t.ID]
		switch {
		case !ok || slices.Contains(ch.touched, t.ID):
			c.Upserts = append(c.Upserts, t)
		case !sameDates(old, t):
			c.Dates = append(c.Dates, storage.DatesOf(t))
		}
	}
	return c, res, nil
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// CreateProject stores a new project. A project without tasks ends on its
// start date.
func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (schedule.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return schedule.Project{}, invalid("name", "is required")
	}
	if in.StartDate.IsZero() {
		return schedule.Project{}, invalid("start_date", "is required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	}
	start := schedule.Date(in.StartDate)
	p := schedule.Project{
		ID:          id,
		Name:        name,
		Description: in.Description,
		StartDate:   start,
		EndDate:     start,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return schedule.Project{}, err
	}
	s.publish(eventbus.Event{Type: eventbus.TypeProjectCreated, Data: eventbus.ProjectChanged{ProjectID: id}})
	s.log.Info("project created", logx.String("project_id", id), logx.String("name", name), logx.Date("start_date", start))
	return p, nil
}

// SetProjectStart moves the project start and recomputes every date.
func (s *Service) SetProjectStart(ctx context.Context, projectID string, start time.Time) (schedule.Result, error) {
	if start.IsZero() {
		return schedule.Result{}, invalid("start_date", "is required")
	}
	out, err := s.apply(ctx, projectID, func(p schedule.Project, tasks []schedule.Task) (change, error) {
		p.StartDate = schedule.Date(start)
		return change{project: p, tasks: tasks, recompute: true}, nil
	})
	return out.result, err
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	unlock, err := s.locks.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.TypeProjectDeleted, Data: eventbus.ProjectChanged{ProjectID: projectID}})
	s.log.Info("project deleted", logx.String("project_id", projectID))
	return nil
}

func (s *Service) Project(ctx context.Context, projectID string) (schedule.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) Projects(ctx context.Context) ([]schedule.Project, error) {
	return s.store.ListProjects(ctx)
}

// Tasks lists a project's tasks in creation order.
func (s *Service) Tasks(ctx context.Context, projectID string) ([]schedule.Task, error) {
	return s.store.ListTasks(ctx, projectID)
}

func (s *Service) Task(ctx context.Context, taskID string) (schedule.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// CreateTask adds a task to a project and recomputes the schedule.
// Dependencies must name existing tasks of the same project.
func (s *Service) CreateTask(ctx context.Context, projectID string, in TaskInput) (schedule.Task, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return schedule.Task{}, invalid("name", "is required")
	}
	if in.Duration < 1 {
		return schedule.Task{}, invalid("duration", "must be at least 1 day, got %d", in.Duration)
	}
	status := in.Status
	if status == "" {
		status = schedule.StatusPending
	}
	if !status.IsValid() {
		return schedule.Task{}, invalid("status", "unknown status %q", status)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	} else if _, err := s.store.GetTask(ctx, id); err == nil {
		return schedule.Task{}, fmt.Errorf("%w: %s", ErrTaskExists, id)
	} else if !errors.Is(err, schedule.ErrTaskNotFound) {
		return schedule.Task{}, err
	}

	t := schedule.Task{
		ID:           id,
		ProjectID:    projectID,
		Name:         name,
		Status:       status,
		Duration:     in.Duration,
		Dependencies: dedupe(in.Dependencies),
	}
	out, err := s.apply(ctx, projectID, func(p schedule.Project, tasks []schedule.Task) (change, error) {
		if slices.ContainsFunc(tasks, func(x schedule.Task) bool { return x.ID == id }) {
			return change{}, fmt.Errorf("%w: %s", ErrTaskExists, id)
		}
		if err := checkDependencies(t, tasks); err != nil {
			return change{}, err
		}
		return change{
			project:   p,
			tasks:     append(tasks, t),
			touched:   []string{id},
			recompute: true,
			events: []eventbus.Event{{Type: eventbus.TypeTaskCreated, Data: eventbus.TaskChanged{
				ProjectID: projectID, TaskID: id,
			}}},
		}, nil
	})
	if err != nil {
		return schedule.Task{}, err
	}
	s.log.Info("task created", logx.String("project_id", projectID), logx.String("task_id", id), logx.Int("duration", t.Duration))
	return out.result.ByID()[id], nil
}

// UpdateTask changes a task. Duration or dependency changes recompute the
// project schedule; a rejected schedule leaves the task unchanged.
func (s *Service) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (schedule.Task, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return schedule.Task{}, invalid("name", "must not be empty")
	}
	if patch.Duration != nil && *patch.Duration < 1 {
		return schedule.Task{}, invalid("duration", "must be at least 1 day, got %d", *patch.Duration)
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return schedule.Task{}, invalid("status", "unknown status %q", *patch.Status)
	}

	var updated schedule.Task
	projectID, err := s.editTask(ctx, taskID, func(p schedule.Project, tasks []schedule.Task, i int) (change, error) {
		t := &tasks[i]
		if patch.Name != nil {
			t.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Duration != nil {
			t.Duration = *patch.Duration
		}
		if patch.Dependencies != nil {
			t.Dependencies = dedupe(*patch.Dependencies)
			if err := checkDependencies(*t, tasks); err != nil {
				return change{}, err
			}
		}
		updated = *t
		return change{
			project:   p,
			tasks:     tasks,
			touched:   []string{taskID},
			recompute: patch.structural(),
			events: []eventbus.Event{{Type: eventbus.TypeTaskUpdated, Data: eventbus.TaskChanged{
				ProjectID: t.ProjectID, TaskID: taskID,
			}}},
		}, nil
	}, &updated)
	if err != nil {
		return schedule.Task{}, err
	}
	s.log.Info("task updated", logx.String("project_id", projectID), logx.String("task_id", taskID), logx.Bool("structural", patch.structural()))
	return updated, nil
}

// DeleteTask removes a task that no other task depends on.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	projectID, err := s.editTask(ctx, taskID, func(p schedule.Project, tasks []schedule.Task, i int) (change, error) {
		var dependents []string
		for _, t := range tasks {
			if t.DependsOn(taskID) {
				dependents = append(dependents, t.ID)
			}
		}
		if len(dependents) > 0 {
			return change{}, fmt.Errorf("%w: %s is required by %s", ErrHasDependents, taskID, strings.Join(dependents, ", "))
		}
		return change{
			project:   p,
			tasks:     slices.Delete(tasks, i, i+1),
			deletes:   []string{taskID},
			recompute: true,
			events: []eventbus.Event{{Type: eventbus.TypeTaskDeleted, Data: eventbus.TaskChanged{
				ProjectID: p.ID, TaskID: taskID,
			}}},
		}, nil
	}, nil)
	if err != nil {
		return err
	}
	s.log.Info("task deleted", logx.String("project_id", projectID), logx.String("task_id", taskID))
	return nil
}

// AddDependency makes taskID wait for dependencyID. The edge is refused
// with schedule.ErrCycleDetected when it would close a cycle. Adding an
// edge that already exists is a no-op.
func (s *Service) AddDependency(ctx context.Context, taskID, dependencyID string) (schedule.Task, error) {
	if taskID == dependencyID {
		return schedule.Task{}, invalid("dependency", "a task cannot depend on itself")
	}
	var updated schedule.Task
	projectID, err := s.editTask(ctx, taskID, func(p schedule.Project, tasks []schedule.Task, i int) (change, error) {
		t := &tasks[i]
		if !hasTask(tasks, dependencyID) {
			return change{}, &outsideDependencyError{projectID: p.ID, dependencyID: dependencyID}
		}
		if t.DependsOn(dependencyID) {
			updated = *t
			return change{project: p, tasks: tasks}, nil
		}
		if schedule.WouldCreateCycle(tasks, taskID, dependencyID) {
			return change{}, fmt.Errorf("%w: %s already depends on %s", schedule.ErrCycleDetected, dependencyID, taskID)
		}
		t.Dependencies = append(t.Dependencies, dependencyID)
		updated = *t
		return change{
			project:   p,
			tasks:     tasks,
			touched:   []string{taskID},
			recompute: true,
			events: []eventbus.Event{{Type: eventbus.TypeDependencyAdded, Data: eventbus.DependencyChanged{
				ProjectID: p.ID, TaskID: taskID, DependencyID: dependencyID,
			}}},
		}, nil
	}, &updated)
	var outside *outsideDependencyError
	if errors.As(err, &outside) {
		return schedule.Task{}, s.explainOutside(ctx, outside)
	}
	if err != nil {
		return schedule.Task{}, err
	}
	s.log.Info("dependency added", logx.String("project_id", projectID), logx.String("task_id", taskID), logx.String("dependency_id", dependencyID))
	return updated, nil
}

// RemoveDependency drops an edge. Removing an absent edge is a no-op.
func (s *Service) RemoveDependency(ctx context.Context, taskID, dependencyID string) (schedule.Task, error) {
	var updated schedule.Task
	_, err := s.editTask(ctx, taskID, func(p schedule.Project, tasks []schedule.Task, i int) (change, error) {
		t := &tasks[i]
		if !t.DependsOn(dependencyID) {
			updated = *t
			return change{project: p, tasks: tasks}, nil
		}
		t.Dependencies = slices.DeleteFunc(t.Dependencies, func(d string) bool { return d == dependencyID })
		if len(t.Dependencies) == 0 {
			t.Dependencies = nil
		}
		updated = *t
		return change{
			project:   p,
			tasks:     tasks,
			touched:   []string{taskID},
			recompute: true,
			events: []eventbus.Event{{Type: eventbus.TypeDependencyRemoved, Data: eventbus.DependencyChanged{
				ProjectID: p.ID, TaskID: taskID, DependencyID: dependencyID,
			}}},
		}, nil
	}, &updated)
	if err != nil {
		return schedule.Task{}, err
	}
	return updated, nil
}

// CheckDependency reports whether taskID may depend on dependencyID
// without creating a cycle. A dependency that is not a task of the same
// project fails with ErrInvalid, as AddDependency would. Nothing is written.
func (s *Service) CheckDependency(ctx context.Context, taskID, dependencyID string) (bool, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	tasks, err := s.store.ListTasks(ctx, t.ProjectID)
	if err != nil {
		return false, err
	}
	if !hasTask(tasks, dependencyID) {
		return false, s.explainOutside(ctx, &outsideDependencyError{projectID: t.ProjectID, dependencyID: dependencyID})
	}
	return schedule.CanAddDependency(tasks, taskID, dependencyID), nil
}

// Recompute propagates the stored tasks of a project again and writes the
// result if any date moved.
func (s *Service) Recompute(ctx context.Context, projectID string) (schedule.Result, error) {
	res, _, err := s.recompute(ctx, projectID)
	return res, err
}

func (s *Service) recompute(ctx context.Context, projectID string) (schedule.Result, bool, error) {
	out, err := s.apply(ctx, projectID, func(p schedule.Project, tasks []schedule.Task) (change, error) {
		return change{project: p, tasks: tasks, recompute: true}, nil
	})
	return out.result, out.written, err
}

// CriticalPath returns the stored tasks that end on the project end date.
func (s *Service) CriticalPath(ctx context.Context, projectID string) ([]schedule.Task, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return schedule.CriticalPath(tasks), nil
}

// Schedule returns the stored schedule of a project.
func (s *Service) Schedule(ctx context.Context, projectID string) (View, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return View{}, err
	}
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return View{}, err
	}
	ordered, err := schedule.Sort(tasks)
	if err != nil {
		return View{}, err
	}
	return View{
		Project:  p,
		Tasks:    ordered,
		Critical: taskIDs(schedule.CriticalPath(ordered)),
		Slack:    schedule.Slack(ordered),
	}, nil
}

// editTask locates taskID, then runs edit under its project's lock with the
// task's current position. It returns the project id.
func (s *Service) editTask(ctx context.Context, taskID string, edit func(p schedule.Project, tasks []schedule.Task, i int) (change, error), result *schedule.Task) (string, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	out, err := s.apply(ctx, t.ProjectID, func(p schedule.Project, tasks []schedule.Task) (change, error) {
		i := slices.IndexFunc(tasks, func(x schedule.Task) bool { return x.ID == taskID })
		if i < 0 {
			// Deleted between lookup and lock.
			return change{}, fmt.Errorf("%w: %s", schedule.ErrTaskNotFound, taskID)
		}
		return edit(p, tasks, i)
	})
	if err != nil {
		return "", err
	}
	if result != nil && out.written && len(out.result.Tasks) > 0 {
		if fresh, ok := out.result.ByID()[taskID]; ok {
			*result = fresh
		}
	}
	return t.ProjectID, nil
}

// checkDependencies validates the dependency list of t against the other
// tasks of its project.
func checkDependencies(t schedule.Task, tasks []schedule.Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, x := range tasks {
		ids[x.ID] = true
	}
	for _, d := range t.Dependencies {
		if d == t.ID {
			return invalid("dependencies", "a task cannot depend on itself")
		}
		if !ids[d] {
			return invalid("dependencies", "task %s does not exist in project %s", d, t.ProjectID)
		}
	}
	return nil
}

func hasTask(tasks []schedule.Task, id string) bool {
	return slices.ContainsFunc(tasks, func(t schedule.Task) bool { return t.ID == id })
}

// outsideDependencyError marks a dependency id that is not a task of the
// edited project. It never leaves the package; explainOutside replaces it.
type outsideDependencyError struct {
	projectID    string
	dependencyID string
}

func (e *outsideDependencyError) Error() string {
	return fmt.Sprintf("task %s is not in project %s", e.dependencyID, e.projectID)
}

// explainOutside looks the dependency up once the store is free again.
func (s *Service) explainOutside(ctx context.Context, e *outsideDependencyError) error {
	other, err := s.store.GetTask(ctx, e.dependencyID)
	if errors.Is(err, schedule.ErrTaskNotFound) {
		return invalid("dependency", "task %s does not exist", e.dependencyID)
	}
	if err != nil {
		return err
	}
	return invalid("dependency", "task %s belongs to project %s, not %s", e.dependencyID, other.ProjectID, e.projectID)
}

// sameSchedule reports whether a propagation left every derived value as
// stored.
func sameSchedule(oldP schedule.Project, oldTasks []schedule.Task, newP schedule.Project, newTasks []schedule.Task) bool {
	if !oldP.StartDate.Equal(newP.StartDate) || !oldP.EndDate.Equal(newP.EndDate) || len(oldTasks) != len(newTasks) {
		return false
	}
	byID := make(map[string]schedule.Task, len(oldTasks))
	for _, t := range oldTasks {
		byID[t.ID] = t
	}
	for _, n := range newTasks {
		if o, ok := byID[n.ID]; !ok || !sameDates(o, n) {
			return false
		}
	}
	return true
}

func sameDates(a, b schedule.Task) bool {
	return a.EarliestStart == b.EarliestStart &&
		a.EarliestEnd == b.EarliestEnd &&
		a.ActualStart.Equal(b.ActualStart) &&
		a.ActualEnd.Equal(b.ActualEnd)
}

func cloneTasks(tasks []schedule.Task) []schedule.Task {
	out := make([]schedule.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func taskIDs(tasks []schedule.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
