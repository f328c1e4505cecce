// internal/workflow/decomposer.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// Decomposer stores GitHub Actions workflow files as workflows, jobs and
// steps rows.
type Decomposer struct {
	store  database.Store
	logger *slog.Logger
}

func New(store database.Store, logger *slog.Logger) *Decomposer {
	return &Decomposer{store: store, logger: logger}
}

// entry is one key of a YAML mapping, in document order.
type entry struct {
	key   string
	value *yaml.Node
}

// Save replaces the stored decomposition of filename in repoID with the
// one parsed from content and returns the new workflow id. A document that
// cannot be parsed leaves the previous decomposition untouched.
func (d *Decomposer) Save(ctx context.Context, repoID int64, filename, content string) (int64, error) {
	doc, err := parse(content)
	if err != nil {
		return 0, &custom_errors.ErrInvalidWorkflow{Filename: filename, Err: err}
	}

	workflow := model.Record{}
	var jobs *yaml.Node
	for _, e := range doc {
		if e.key == "jobs" {
			jobs = e.value
			continue
		}
		if workflow[e.key], err = decode(e.value); err != nil {
			return 0, &custom_errors.ErrInvalidWorkflow{Filename: filename, Err: err}
		}
	}
	keepID(workflow, "workflow_id")
	if workflow["name"] == nil {
		workflow["name"] = filename
	}
	workflow["filename"] = filename
	workflow["repo"] = repoID

	jobRows, err := decomposeJobs(jobs)
	if err != nil {
		return 0, &custom_errors.ErrInvalidWorkflow{Filename: filename, Err: err}
	}

	var workflowID int64
	err = d.store.InTx(ctx, func(tx database.Store) error {
		if err := deleteDecomposition(ctx, tx, repoID, filename); err != nil {
			return err
		}
		id, err := tx.Insert(ctx, model.Workflows, workflow)
		if err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		workflowID = id
		if err := tx.EnsureIndex(ctx, model.Workflows.Name, []string{"repo", "filename"}, true); err != nil {
			return err
		}
		for _, j := range jobRows {
			j.row["workflow"] = id
			j.row["repo"] = repoID
			jobID, err := tx.Insert(ctx, model.Jobs, j.row)
			if err != nil {
				return fmt.Errorf("failed to insert job %v: %w", j.row["name"], err)
			}
			for i, step := range j.steps {
				step["seq"] = int64(i + 1)
				step["job"] = jobID
				step["repo"] = repoID
				if _, err := tx.Insert(ctx, model.Steps, step); err != nil {
					return fmt.Errorf("failed to insert step %d: %w", i+1, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		var bad *custom_errors.ErrMalformedRecord
		if errors.As(err, &bad) {
			return 0, &custom_errors.ErrInvalidWorkflow{Filename: filename, Err: err}
		}
		return 0, err
	}

	d.logger.Debug("Saved workflow", "repo", repoID, "filename", filename, "jobs", len(jobRows))
	return workflowID, nil
}

type job struct {
	row   model.Record
	steps []model.Record
}

// decomposeJobs turns the jobs mapping into job rows. Keys of a job body
// override the name taken from the job's key.
func decomposeJobs(jobs *yaml.Node) ([]job, error) {
	if jobs == nil {
		return nil, nil
	}
	if jobs.Kind != yaml.MappingNode {
		return nil, errors.New("jobs is not a mapping")
	}
	var out []job
	for _, e := range entries(jobs) {
		j := job{row: model.Record{"name": e.key}}
		if e.value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("job %s is not a mapping", e.key)
		}
		for _, field := range entries(e.value) {
			if field.key == "steps" {
				steps, err := decodeSteps(field.value)
				if err != nil {
					return nil, fmt.Errorf("job %s: %w", e.key, err)
				}
				j.steps = steps
				continue
			}
			v, err := decode(field.value)
			if err != nil {
				return nil, err
			}
			j.row[field.key] = v
		}
		keepID(j.row, "job_id")
		out = append(out, j)
	}
	return out, nil
}

func decodeSteps(node *yaml.Node) ([]model.Record, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errors.New("steps is not a list")
	}
	steps := make([]model.Record, 0, len(node.Content))
	for i, item := range node.Content {
		v, err := decode(item)
		if err != nil {
			return nil, err
		}
		step, ok := v.(model.Record)
		if !ok {
			return nil, fmt.Errorf("step %d is not a mapping", i+1)
		}
		keepID(step, "step_id")
		steps = append(steps, step)
	}
	return steps, nil
}

// deleteDecomposition deletes steps, then jobs, then the workflow itself.
func deleteDecomposition(ctx context.Context, tx database.Store, repoID int64, filename string) error {
	existing, err := tx.Find(ctx, model.Workflows.Name, map[string]any{"repo": repoID, "filename": filename})
	if err != nil || len(existing) == 0 {
		return err
	}
	workflowIDs := column(existing, "id")

	jobs, err := tx.Find(ctx, model.Jobs.Name, map[string]any{"workflow": workflowIDs})
	if err != nil {
		return err
	}
	if jobIDs := column(jobs, "id"); len(jobIDs) > 0 {
		if _, err := tx.Delete(ctx, model.Steps.Name, map[string]any{"job": jobIDs}); err != nil {
			return fmt.Errorf("failed to delete steps: %w", err)
		}
		if _, err := tx.Delete(ctx, model.Jobs.Name, map[string]any{"id": jobIDs}); err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
	}
	if _, err := tx.Delete(ctx, model.Workflows.Name, map[string]any{"id": workflowIDs}); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// keepID moves a document's own id key to column; id holds the row's
// surrogate key.
func keepID(row model.Record, column string) {
	if v, ok := row["id"]; ok {
		row[column] = v
		delete(row, "id")
	}
}

func column(rows []model.Record, name string) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[name])
	}
	return out
}

// parse reads a workflow document and returns its top-level keys in order.
func parse(content string) ([]entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New("empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("top level is not a mapping")
	}
	return entries(doc), nil
}

func entries(node *yaml.Node) []entry {
	out := make([]entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, entry{key: node.Content[i].Value, value: node.Content[i+1]})
	}
	return out
}

func decode(node *yaml.Node) (any, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return model.Normalize(v), nil
}
