package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskplan/internal/schedule"
)

const importYAML = `
project:
  id: web
  name: Website
  start_date: 2024-03-04
tasks:
  - key: design
    name: Design
    duration: 3
  - key: frontend
    name: Frontend
    duration: 4
    after: [design]
  - key: backend
    name: Backend
    duration: 2
    after: [design]
  - key: launch
    name: Launch
    duration: 1
    status: pending
    after: [frontend, backend]
`

func writeDoc(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestImportYAML(t *testing.T) {
	cfg := setupConfig(t)
	doc := writeDoc(t, "web.yaml", importYAML)

	out := mustRun(t, cfg, "--json", "import", doc)
	var res importResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "web", res.Project.ID)
	assert.Equal(t, "2024-03-12", formatDate(res.Project.EndDate))
	require.Len(t, res.Tasks, 4)

	s := scheduleOf(t, cfg, "web")
	rows := rowsByID(s)
	launch := rows[res.Tasks["launch"]]
	assert.Equal(t, "Launch", launch.Name)
	assert.ElementsMatch(t, []string{res.Tasks["frontend"], res.Tasks["backend"]}, launch.Dependencies)
	assert.Equal(t, 7, launch.EarliestStart)
	assert.Equal(t, []string{res.Tasks["launch"]}, s.Critical)
}

func TestImportJSONWithExplicitIDs(t *testing.T) {
	cfg := setupConfig(t)
	doc := writeDoc(t, "p.json", `{
		"project": {"name": "Small", "start_date": "2024-01-01"},
		"tasks": [
			{"key": "two", "id": "t2", "name": "Second", "duration": 2, "after": ["one"]},
			{"key": "one", "id": "t1", "name": "First", "duration": 1}
		]
	}`)

	out := mustRun(t, cfg, "--json", "import", doc)
	var res importResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, map[string]string{"one": "t1", "two": "t2"}, res.Tasks)
	assert.NotEmpty(t, res.Project.ID)
	assert.Equal(t, "2024-01-04", formatDate(res.Project.EndDate))
}

func TestImportRejectsCycleBeforeWriting(t *testing.T) {
	cfg := setupConfig(t)
	doc := writeDoc(t, "cycle.yaml", `
project: {name: Loop, start_date: "2024-01-01"}
tasks:
  - {key: a, name: A, duration: 1, after: [b]}
  - {key: b, name: B, duration: 1, after: [a]}
`)

	_, err := runCLI(t, cfg, "import", doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrCycleDetected)

	out := mustRun(t, cfg, "project", "list")
	assert.Equal(t, "No projects\n", out)
}

func TestImportSchemaErrors(t *testing.T) {
	doc, err := parseImportDoc([]byte(`
project: {name: Bad, start_date: "March 4th"}
tasks:
  - {key: a, name: A, duration: 0, colour: red}
`))
	require.Error(t, err)
	assert.Nil(t, doc)

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.GreaterOrEqual(t, len(se.Problems), 3)
	joined := se.Error()
	assert.Contains(t, joined, "/project/start_date")
	assert.Contains(t, joined, "/tasks/0")
}

func TestImportUnknownKey(t *testing.T) {
	doc, err := parseImportDoc([]byte(`{"project": {"name": "X", "start_date": "2024-01-01"},
		"tasks": [{"key": "a", "name": "A", "duration": 1, "after": ["ghost"]}]}`))
	require.NoError(t, err)
	_, err = doc.order()
	assert.EqualError(t, err, `task a: unknown key "ghost" in after`)
}

func TestImportRollsBackOnTaskFailure(t *testing.T) {
	cfg := setupConfig(t)
	mustRun(t, cfg, "project", "create", "Other", "--id", "other", "--start", "2024-01-01")
	mustRun(t, cfg, "task", "add", "other", "Taken", "--id", "taken")

	doc := writeDoc(t, "clash.json", `{
		"project": {"id": "clash", "name": "Clash", "start_date": "2024-01-01"},
		"tasks": [
			{"key": "a", "name": "A", "duration": 1},
			{"key": "b", "id": "taken", "name": "B", "duration": 1, "after": ["a"]}
		]
	}`)
	_, err := runCLI(t, cfg, "import", doc)
	require.Error(t, err)

	_, err = runCLI(t, cfg, "project", "show", "clash")
	assert.ErrorIs(t, err, schedule.ErrProjectNotFound)
}

func TestImportDryRun(t *testing.T) {
	cfg := setupConfig(t)
	doc := writeDoc(t, "web.yaml", importYAML)

	out := mustRun(t, cfg, "import", "--dry-run", doc)
	assert.Contains(t, out, "4 tasks OK")
	assert.Equal(t, "No projects\n", mustRun(t, cfg, "project", "list"))
}
