package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskplan/internal/schedule"
	logx "taskplan/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	// Pragmas go in the DSN so they apply to every new connection.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	// Every transaction takes the write lock up front, so a read-modify-write
	// in Update cannot interleave with another process's write.
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateProject(ctx context.Context, p schedule.Project) error {
	if p.ID == "" {
		return errors.New("project id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(id, name, description, start_date, end_date)
		 VALUES(?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Name, p.Description, formatDate(p.StartDate), formatDate(p.EndDate),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrExists)
	}
	return nil
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (schedule.Project, error) {
	return getProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q querier, id string) (schedule.Project, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, description, start_date, end_date FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Project{}, projectNotFound(id)
	}
	return p, err
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]schedule.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, start_date, end_date FROM projects ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []schedule.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return projectNotFound(id)
	}
	return nil
}

const taskColumns = `id, project_id, name, status, duration, earliest_start, earliest_end, actual_start, actual_end`

func (s *sqliteStore) GetTask(ctx context.Context, id string) (schedule.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Task{}, taskNotFound(id)
	}
	if err != nil {
		return schedule.Task{}, err
	}
	deps, err := s.db.QueryContext(ctx,
		`SELECT dependency_id FROM task_dependencies WHERE task_id = ? ORDER BY position`, id)
	if err != nil {
		return schedule.Task{}, err
	}
	defer deps.Close()
	for deps.Next() {
		var d string
		if err := deps.Scan(&d); err != nil {
			return schedule.Task{}, err
		}
		t.Dependencies = append(t.Dependencies, d)
	}
	return t, deps.Err()
}

func (s *sqliteStore) ListTasks(ctx context.Context, projectID string) ([]schedule.Task, error) {
	if _, err := getProject(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	return listTasks(ctx, s.db, projectID)
}

func listTasks(ctx context.Context, q querier, projectID string) ([]schedule.Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	out := []schedule.Task{}
	pos := map[string]int{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps, err := q.QueryContext(ctx,
		`SELECT d.task_id, d.dependency_id FROM task_dependencies d
		 JOIN tasks t ON t.id = d.task_id
		 WHERE t.project_id = ? ORDER BY d.task_id, d.position`, projectID)
	if err != nil {
		return nil, err
	}
	defer deps.Close()
	for deps.Next() {
		var tid, did string
		if err := deps.Scan(&tid, &did); err != nil {
			return nil, err
		}
		if i, ok := pos[tid]; ok {
			out[i].Dependencies = append(out[i].Dependencies, did)
		}
	}
	return out, deps.Err()
}

func (s *sqliteStore) Commit(ctx context.Context, c Commit) (err error) {
	if err := c.validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = commitTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Update(ctx context.Context, projectID string, fn UpdateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err := getProject(ctx, tx, projectID)
	if err != nil {
		return err
	}
	tasks, err := listTasks(ctx, tx, projectID)
	if err != nil {
		return err
	}
	c, err := fn(p, tasks)
	if err != nil {
		return err
	}
	if c == nil {
		return tx.Rollback()
	}
	if c.Project.ID != projectID {
		err = fmt.Errorf("commit: project %q, want %q", c.Project.ID, projectID)
		return err
	}
	if err = c.validate(); err != nil {
		return err
	}
	if err = commitTx(ctx, tx, *c); err != nil {
		return err
	}
	return tx.Commit()
}

func commitTx(ctx context.Context, tx *sql.Tx, c Commit) error {
	p := c.Project
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET start_date = ?, end_date = ? WHERE id = ?`,
		formatDate(p.StartDate), formatDate(p.EndDate), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return projectNotFound(p.ID)
	}

	for _, id := range c.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND project_id = ?`, id, p.ID); err != nil {
			return err
		}
	}

	for _, t := range c.Upserts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   status = excluded.status,
			   duration = excluded.duration,
			   earliest_start = excluded.earliest_start,
			   earliest_end = excluded.earliest_end,
			   actual_start = excluded.actual_start,
			   actual_end = excluded.actual_end
			 WHERE tasks.project_id = excluded.project_id`,
			t.ID, t.ProjectID, t.Name, string(t.Status), t.Duration,
			t.EarliestStart, t.EarliestEnd, formatDate(t.ActualStart), formatDate(t.ActualEnd),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w in another project", t.ID, ErrExists)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
			return err
		}
		for i, d := range t.Dependencies {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_dependencies(task_id, position, dependency_id) VALUES(?,?,?)`,
				t.ID, i, d); err != nil {
				return err
			}
		}
	}

	for _, d := range c.Dates {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET earliest_start = ?, earliest_end = ?, actual_start = ?, actual_end = ?
			 WHERE id = ? AND project_id = ?`,
			d.EarliestStart, d.EarliestEnd, formatDate(d.ActualStart), formatDate(d.ActualEnd), d.ID, p.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return taskNotFound(d.ID)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(r scanner) (schedule.Project, error) {
	var (
		p          schedule.Project
		start, end string
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &start, &end); err != nil {
		return schedule.Project{}, err
	}
	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return schedule.Project{}, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return schedule.Project{}, err
	}
	return p, nil
}

func scanTask(r scanner) (schedule.Task, error) {
	var (
		t          schedule.Task
		status     string
		start, end string
	)
	if err := r.Scan(&t.ID, &t.ProjectID, &t.Name, &status, &t.Duration,
		&t.EarliestStart, &t.EarliestEnd, &start, &end); err != nil {
		return schedule.Task{}, err
	}
	t.Status = schedule.Status(status)
	var err error
	if t.ActualStart, err = parseDate(start); err != nil {
		return schedule.Task{}, err
	}
	if t.ActualEnd, err = parseDate(end); err != nil {
		return schedule.Task{}, err
	}
	return t, nil
}

// Dates are stored as YYYY-MM-DD; the zero time is stored as "".
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return schedule.ParseDate(s)
}
