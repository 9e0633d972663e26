package cli

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yaml "go.yaml.in/yaml/v3"

	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

//go:embed import.schema.json
var importSchemaJSON []byte

const importSchemaURL = "https://taskplan.local/schemas/import.schema.json"

// importDoc is a project with its tasks. Tasks reference each other by key;
// keys are local to the document and never stored.
type importDoc struct {
	Project struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		StartDate   string `json:"start_date"`
	} `json:"project"`
	Tasks []importTask `json:"tasks"`
}

type importTask struct {
	Key      string   `json:"key"`
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Duration int      `json:"duration"`
	Status   string   `json:"status"`
	After    []string `json:"after"`
}

// SchemaError lists every schema violation of an import document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "import document does not match schema:\n  " + strings.Join(e.Problems, "\n  ")
}

func compileImportSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(importSchemaURL, bytes.NewReader(importSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(importSchemaURL)
}

// parseImportDoc decodes a JSON or YAML document and checks it against the
// embedded schema.
func parseImportDoc(data []byte) (*importDoc, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse import document: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types only.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse import document: %w", err)
	}
	var inst any
	if err := json.Unmarshal(normalized, &inst); err != nil {
		return nil, fmt.Errorf("parse import document: %w", err)
	}

	schema, err := compileImportSchema()
	if err != nil {
		return nil, fmt.Errorf("import schema: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		se := &SchemaError{}
		collectSchemaProblems(se, ve)
		return nil, se
	}

	var doc importDoc
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("decode import document: %w", err)
	}
	return &doc, nil
}

func collectSchemaProblems(se *SchemaError, ve *jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		se.Problems = append(se.Problems, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaProblems(se, c)
	}
}

// order checks the task keys and returns the tasks so that every task comes
// after the tasks it waits for.
func (d *importDoc) order() ([]importTask, error) {
	byKey := make(map[string]importTask, len(d.Tasks))
	graph := make([]schedule.Task, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		if _, dup := byKey[t.Key]; dup {
			return nil, fmt.Errorf("%w: key %s", schedule.ErrDuplicateTask, t.Key)
		}
		byKey[t.Key] = t
		graph = append(graph, schedule.Task{ID: t.Key, Duration: t.Duration, Dependencies: t.After})
	}
	for _, t := range d.Tasks {
		for _, k := range t.After {
			if _, ok := byKey[k]; !ok {
				return nil, fmt.Errorf("task %s: unknown key %q in after", t.Key, k)
			}
		}
	}
	sorted, err := schedule.Sort(graph)
	if err != nil {
		return nil, err
	}
	out := make([]importTask, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, byKey[t.ID])
	}
	return out, nil
}

type importResult struct {
	Project schedule.Project  `json:"project"`
	Tasks   map[string]string `json:"tasks"` // key -> stored id
}

// importProject creates the project and its tasks. A failure after the
// project exists deletes it again, so an import is all or nothing.
func importProject(ctx context.Context, svc *planner.Service, doc *importDoc) (_ importResult, err error) {
	ordered, err := doc.order()
	if err != nil {
		return importResult{}, err
	}
	start, err := schedule.ParseDate(doc.Project.StartDate)
	if err != nil {
		return importResult{}, err
	}

	p, err := svc.CreateProject(ctx, planner.ProjectInput{
		ID:          doc.Project.ID,
		Name:        doc.Project.Name,
		Description: doc.Project.Description,
		StartDate:   start,
	})
	if err != nil {
		return importResult{}, err
	}
	projectID := p.ID
	defer func() {
		if err != nil {
			if derr := svc.DeleteProject(context.WithoutCancel(ctx), projectID); derr != nil {
				err = errors.Join(err, fmt.Errorf("roll back project %s: %w", projectID, derr))
			}
		}
	}()

	ids := make(map[string]string, len(ordered))
	for _, t := range ordered {
		deps := make([]string, 0, len(t.After))
		for _, k := range t.After {
			deps = append(deps, ids[k])
		}
		created, err := svc.CreateTask(ctx, projectID, planner.TaskInput{
			ID:           t.ID,
			Name:         t.Name,
			Status:       schedule.Status(t.Status),
			Duration:     t.Duration,
			Dependencies: deps,
		})
		if err != nil {
			return importResult{}, fmt.Errorf("task %s: %w", t.Key, err)
		}
		ids[t.Key] = created.ID
	}

	p, err = svc.Project(ctx, projectID)
	if err != nil {
		return importResult{}, err
	}
	return importResult{Project: p, Tasks: ids}, nil
}
