package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

// setupConfig writes a config that keeps a file store inside a temp dir, so
// consecutive commands see each other's writes.
func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
	"logging": {"level": "warn", "console": true},
	"storage": {"driver": "file", "path": %q}
}`, filepath.Join(dir, "plan.db"))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCLI(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfg, args...)
	require.NoError(t, err, "taskplan %s", strings.Join(args, " "))
	return out
}

// seedChain creates project p1 starting 2024-01-01 with a(3) <- b(2) and an
// independent c(1).
func seedChain(t *testing.T, cfg string) {
	t.Helper()
	mustRun(t, cfg, "project", "create", "Launch", "--id", "p1", "--start", "2024-01-01")
	mustRun(t, cfg, "task", "add", "p1", "Design", "--id", "a", "-d", "3")
	mustRun(t, cfg, "task", "add", "p1", "Build", "--id", "b", "-d", "2", "--after", "a")
	mustRun(t, cfg, "task", "add", "p1", "Docs", "--id", "c", "-d", "1")
}

func scheduleOf(t *testing.T, cfg, projectID string) scheduleJSON {
	t.Helper()
	out := mustRun(t, cfg, "--json", "schedule", projectID)
	var s scheduleJSON
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	return s
}

func rowsByID(s scheduleJSON) map[string]scheduleRow {
	m := make(map[string]scheduleRow, len(s.Tasks))
	for _, r := range s.Tasks {
		m[r.ID] = r
	}
	return m
}

func TestProjectCreateAndShow(t *testing.T) {
	cfg := setupConfig(t)

	out := mustRun(t, cfg, "project", "create", "Launch", "--id", "p1", "--start", "2024-01-01", "--description", "v1 launch")
	assert.Equal(t, "Created project p1 (Launch) starting 2024-01-01\n", out)

	out = mustRun(t, cfg, "project", "show", "p1")
	assert.Contains(t, out, "Name:     Launch")
	assert.Contains(t, out, "End:      2024-01-01")
	assert.Contains(t, out, "Duration: 0 days")

	out = mustRun(t, cfg, "project", "list")
	assert.Equal(t, "p1\tLaunch\t2024-01-01..2024-01-01\n", out)

	_, err := runCLI(t, cfg, "project", "create", "Bad", "--start", "01/02/2024")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "project", "show", "nope")
	assert.ErrorIs(t, err, schedule.ErrProjectNotFound)
}

func TestScheduleFollowsDependencies(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	s := scheduleOf(t, cfg, "p1")
	assert.Equal(t, "2024-01-06", formatDate(s.Project.EndDate))
	assert.Equal(t, 5, s.Duration)
	assert.Equal(t, []string{"b"}, s.Critical)

	rows := rowsByID(s)
	assert.Equal(t, "2024-01-04", formatDate(rows["b"].ActualStart))
	assert.Equal(t, "2024-01-06", formatDate(rows["b"].ActualEnd))
	assert.True(t, rows["b"].Critical)
	assert.Equal(t, 4, rows["c"].Slack)

	order := make([]string, 0, len(s.Tasks))
	for _, r := range s.Tasks {
		order = append(order, r.ID)
	}
	assert.Less(t, indexOf(order, "a"), indexOf(order, "b"))

	text := mustRun(t, cfg, "schedule", "p1")
	assert.Contains(t, text, "Launch (p1)")
	assert.Contains(t, text, "2024-01-01 to 2024-01-06")
	assert.Contains(t, text, "Build")
	assert.Contains(t, text, "* critical")

	text = mustRun(t, cfg, "critical", "p1")
	assert.Contains(t, text, "Build")
	assert.NotContains(t, text, "Design")
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestDepAddRejectsCycle(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	_, err := runCLI(t, cfg, "dep", "add", "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrCycleDetected)
	assert.True(t, strings.HasPrefix(errorMessage(err), "circular dependency detected"), errorMessage(err))

	// Nothing changed.
	out := mustRun(t, cfg, "--json", "task", "list", "p1")
	var tasks []schedule.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	for _, tk := range tasks {
		if tk.ID == "a" {
			assert.Empty(t, tk.Dependencies)
		}
	}

	_, err = runCLI(t, cfg, "dep", "add", "a", "a")
	assert.ErrorIs(t, err, planner.ErrInvalid)
}

func TestDepAddAndRemove(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	out := mustRun(t, cfg, "dep", "add", "c", "b")
	assert.Equal(t, "Added dependency: c depends on b\n", out)
	s := scheduleOf(t, cfg, "p1")
	assert.Equal(t, "2024-01-07", formatDate(s.Project.EndDate))
	assert.Equal(t, []string{"c"}, s.Critical)

	out = mustRun(t, cfg, "dep", "rm", "c", "b")
	assert.Equal(t, "Removed dependency: c no longer depends on b\n", out)
	s = scheduleOf(t, cfg, "p1")
	assert.Equal(t, "2024-01-06", formatDate(s.Project.EndDate))
}

func TestDepCheck(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	out := mustRun(t, cfg, "dep", "check", "c", "b")
	assert.True(t, strings.HasPrefix(out, "safe:"), out)

	out = mustRun(t, cfg, "dep", "check", "a", "b")
	assert.True(t, strings.HasPrefix(out, "unsafe:"), out)

	out = mustRun(t, cfg, "--json", "dep", "check", "a", "b")
	var res depCheckResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Safe)

	out, err := runCLI(t, cfg, "dep", "check", "a", "ghost")
	require.ErrorIs(t, err, planner.ErrInvalid)
	assert.Contains(t, err.Error(), "task ghost does not exist")
	assert.NotContains(t, out, "safe:")
}

func TestTaskUpdate(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	mustRun(t, cfg, "task", "update", "a", "--duration", "5", "--name", "Design v2")
	s := scheduleOf(t, cfg, "p1")
	rows := rowsByID(s)
	assert.Equal(t, "Design v2", rows["a"].Name)
	assert.Equal(t, "2024-01-06", formatDate(rows["b"].ActualStart))
	assert.Equal(t, "2024-01-08", formatDate(s.Project.EndDate))

	mustRun(t, cfg, "task", "update", "b", "--deps=")
	rows = rowsByID(scheduleOf(t, cfg, "p1"))
	assert.Empty(t, rows["b"].Dependencies)
	assert.Equal(t, "2024-01-01", formatDate(rows["b"].ActualStart))

	_, err := runCLI(t, cfg, "task", "update", "b")
	assert.EqualError(t, err, "no fields to update")

	_, err = runCLI(t, cfg, "task", "update", "b", "--status", "done")
	assert.ErrorIs(t, err, planner.ErrInvalid)
}

func TestTaskRemove(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	_, err := runCLI(t, cfg, "task", "rm", "a")
	assert.ErrorIs(t, err, planner.ErrHasDependents)

	mustRun(t, cfg, "task", "rm", "b")
	mustRun(t, cfg, "task", "rm", "a")
	out := mustRun(t, cfg, "task", "list", "p1")
	assert.True(t, strings.HasPrefix(out, "c\tDocs\t[pending]\t1d\tafter:-"), out)
}

func TestTaskAddValidation(t *testing.T) {
	cfg := setupConfig(t)
	mustRun(t, cfg, "project", "create", "Launch", "--id", "p1", "--start", "2024-01-01")

	_, err := runCLI(t, cfg, "task", "add", "p1", "Zero", "-d", "0")
	assert.ErrorIs(t, err, planner.ErrInvalid)
	assert.Equal(t, "invalid duration: must be at least 1 day, got 0", errorMessage(err))

	_, err = runCLI(t, cfg, "task", "add", "p1", "Orphan", "--after", "ghost")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "task", "add", "nope", "Lost")
	assert.ErrorIs(t, err, schedule.ErrProjectNotFound)
}

func TestProjectStartAndDelete(t *testing.T) {
	cfg := setupConfig(t)
	seedChain(t, cfg)

	out := mustRun(t, cfg, "project", "start", "p1", "2024-02-01")
	assert.Equal(t, "Project p1 now runs 2024-02-01 to 2024-02-06 (5 days)\n", out)

	out = mustRun(t, cfg, "project", "delete", "p1")
	assert.Equal(t, "Deleted project p1\n", out)
	out = mustRun(t, cfg, "project", "list")
	assert.Equal(t, "No projects\n", out)

	_, err := runCLI(t, cfg, "task", "list", "p1")
	assert.ErrorIs(t, err, schedule.ErrProjectNotFound)
}

func TestCriticalEmptyProject(t *testing.T) {
	cfg := setupConfig(t)
	mustRun(t, cfg, "project", "create", "Empty", "--id", "p0", "--start", "2024-01-01")

	out := mustRun(t, cfg, "--json", "critical", "p0")
	assert.JSONEq(t, "[]", out)

	out = mustRun(t, cfg, "schedule", "p0")
	assert.Contains(t, out, "No tasks")
}
