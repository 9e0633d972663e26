package storage

import (
	"context"
	"fmt"
	"sync"

	"taskplan/internal/schedule"
)

// state is the in-memory model shared by the memory and file drivers.
// It is not safe for concurrent use; drivers hold their own lock.
type state struct {
	projects map[string]schedule.Project
	order    []string // project ids, creation order

	tasks     map[string]schedule.Task
	taskOrder map[string][]string // project id -> task ids, creation order
}

func newState() *state {
	return &state{
		projects:  map[string]schedule.Project{},
		tasks:     map[string]schedule.Task{},
		taskOrder: map[string][]string{},
	}
}

func (s *state) createProject(p schedule.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if _, ok := s.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrExists)
	}
	s.projects[p.ID] = p
	s.order = append(s.order, p.ID)
	return nil
}

func (s *state) deleteProject(id string) error {
	if _, ok := s.projects[id]; !ok {
		return projectNotFound(id)
	}
	for _, tid := range s.taskOrder[id] {
		delete(s.tasks, tid)
	}
	delete(s.taskOrder, id)
	delete(s.projects, id)
	s.order = removeID(s.order, id)
	return nil
}

// check reports whether c can be applied without a partial write.
func (s *state) check(c Commit) error {
	if err := c.validate(); err != nil {
		return err
	}
	if _, ok := s.projects[c.Project.ID]; !ok {
		return projectNotFound(c.Project.ID)
	}
	for _, t := range c.Upserts {
		if cur, ok := s.tasks[t.ID]; ok && cur.ProjectID != t.ProjectID {
			return fmt.Errorf("task %s: %w in project %s", t.ID, ErrExists, cur.ProjectID)
		}
	}
	for _, d := range c.Dates {
		if cur, ok := s.tasks[d.ID]; !ok || cur.ProjectID != c.Project.ID {
			return taskNotFound(d.ID)
		}
	}
	return nil
}

func (s *state) apply(c Commit) error {
	if err := s.check(c); err != nil {
		return err
	}
	pid := c.Project.ID
	p := s.projects[pid]
	p.StartDate, p.EndDate = c.Project.StartDate, c.Project.EndDate
	s.projects[pid] = p
	for _, id := range c.Deletes {
		if cur, ok := s.tasks[id]; ok && cur.ProjectID == pid {
			delete(s.tasks, id)
			s.taskOrder[pid] = removeID(s.taskOrder[pid], id)
		}
	}
	for _, t := range c.Upserts {
		if _, ok := s.tasks[t.ID]; !ok {
			s.taskOrder[pid] = append(s.taskOrder[pid], t.ID)
		}
		s.tasks[t.ID] = t.Clone()
	}
	for _, d := range c.Dates {
		t := s.tasks[d.ID]
		d.applyTo(&t)
		s.tasks[d.ID] = t
	}
	return nil
}

// update runs fn on the stored project and applies the commit it returns.
func (s *state) update(projectID string, fn UpdateFunc, apply func(Commit) error) error {
	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	tasks, err := s.listTasks(projectID)
	if err != nil {
		return err
	}
	c, err := fn(p, tasks)
	if err != nil || c == nil {
		return err
	}
	if c.Project.ID != projectID {
		return fmt.Errorf("commit: project %q, want %q", c.Project.ID, projectID)
	}
	return apply(*c)
}

func (s *state) project(id string) (schedule.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return schedule.Project{}, projectNotFound(id)
	}
	return p, nil
}

func (s *state) listProjects() []schedule.Project {
	out := make([]schedule.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.projects[id])
	}
	return out
}

func (s *state) task(id string) (schedule.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return schedule.Task{}, taskNotFound(id)
	}
	return t.Clone(), nil
}

func (s *state) listTasks(projectID string) ([]schedule.Task, error) {
	if _, ok := s.projects[projectID]; !ok {
		return nil, projectNotFound(projectID)
	}
	ids := s.taskOrder[projectID]
	out := make([]schedule.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// memStore keeps everything in process memory.
type memStore struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

func openMemory() *memStore {
	return &memStore{st: newState()}
}

func (m *memStore) CreateProject(ctx context.Context, p schedule.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.createProject(p)
}

func (m *memStore) GetProject(ctx context.Context, id string) (schedule.Project, error) {
	if err := ctx.Err(); err != nil {
		return schedule.Project{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.project(id)
}

func (m *memStore) ListProjects(ctx context.Context) ([]schedule.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listProjects(), nil
}

func (m *memStore) DeleteProject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.deleteProject(id)
}

func (m *memStore) GetTask(ctx context.Context, id string) (schedule.Task, error) {
	if err := ctx.Err(); err != nil {
		return schedule.Task{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.task(id)
}

func (m *memStore) ListTasks(ctx context.Context, projectID string) ([]schedule.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTasks(projectID)
}

func (m *memStore) Commit(ctx context.Context, c Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.apply(c)
}

func (m *memStore) Update(ctx context.Context, projectID string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.update(projectID, fn, m.st.apply)
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
