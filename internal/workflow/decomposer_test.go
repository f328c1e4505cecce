// internal/workflow/decomposer_test.go
package workflow

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-ingest/internal/database/dbtest"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

const twoJobs = `name: CI
on:
  push:
    branches: [main]
env:
  GO_VERSION: "1.24"
jobs:
  test:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-go@v5
        with:
          go-version: ${{ env.GO_VERSION }}
      - run: go test ./...
  lint:
    name: Lint code
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: golangci-lint run
`

const oneJob = `name: CI
on: [push]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: make
`

func setupDecomposer(t *testing.T) (*Decomposer, *dbtest.MemStore) {
	t.Helper()
	store := dbtest.NewMemStore()
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestDecomposer_Save(t *testing.T) {
	d, store := setupDecomposer(t)
	ctx := context.Background()

	_, err := d.Save(ctx, 100, "ci.yml", twoJobs)
	require.NoError(t, err)

	workflows := store.Rows("workflows")
	require.Len(t, workflows, 1)
	assert.Equal(t, "CI", workflows[0]["name"])
	assert.Equal(t, "ci.yml", workflows[0]["filename"])
	assert.Equal(t, model.Record{"push": model.Record{"branches": []any{"main"}}}, workflows[0]["on"])
	assert.Equal(t, model.Record{"GO_VERSION": "1.24"}, workflows[0]["env"])
	assert.NotContains(t, workflows[0], "jobs")
	assert.True(t, store.HasIndex("workflows", "repo", "filename"))

	jobs := store.Rows("jobs")
	require.Len(t, jobs, 2)
	assert.Equal(t, "test", jobs[0]["name"])
	assert.Equal(t, "Lint code", jobs[1]["name"], "job body name overrides the key")
	assert.Equal(t, "ubuntu-latest", jobs[0]["runs-on"])
	assert.NotContains(t, jobs[0], "steps")

	steps := store.Rows("steps")
	require.Len(t, steps, 5)
	assert.Equal(t, int64(1), steps[0]["seq"])
	assert.Equal(t, int64(3), steps[2]["seq"])
	assert.Equal(t, "go test ./...", steps[2]["run"])
	assert.Equal(t, model.Record{"go-version": "${{ env.GO_VERSION }}"}, steps[1]["with"])
	assert.Equal(t, jobs[1]["id"], steps[3]["job"])
	assert.Equal(t, int64(1), steps[3]["seq"])
	assert.Equal(t, int64(100), steps[4]["repo"])

	t.Run("replaces the previous decomposition", func(t *testing.T) {
		id, err := d.Save(ctx, 100, "ci.yml", oneJob)
		require.NoError(t, err)

		workflows := store.Rows("workflows")
		require.Len(t, workflows, 1)
		assert.Equal(t, id, workflows[0]["id"])
		assert.Equal(t, []any{"push"}, workflows[0]["on"])
		assert.NotContains(t, workflows[0], "env")

		jobs := store.Rows("jobs")
		require.Len(t, jobs, 1)
		assert.Equal(t, "build", jobs[0]["name"])
		assert.Equal(t, id, jobs[0]["workflow"])

		steps := store.Rows("steps")
		require.Len(t, steps, 2)
		assert.Equal(t, jobs[0]["id"], steps[0]["job"])
		assert.Equal(t, "make", steps[1]["run"])
	})

	t.Run("other files of the repo are kept", func(t *testing.T) {
		_, err := d.Save(ctx, 100, "release.yml", oneJob)
		require.NoError(t, err)
		assert.Equal(t, 2, store.Count("workflows"))
		assert.Equal(t, 4, store.Count("steps"))
	})
}

func TestDecomposer_Save_DefaultName(t *testing.T) {
	d, store := setupDecomposer(t)

	_, err := d.Save(context.Background(), 7, "nightly.yaml", "on: schedule\njobs: {}\n")
	require.NoError(t, err)

	workflows := store.Rows("workflows")
	require.Len(t, workflows, 1)
	assert.Equal(t, "nightly.yaml", workflows[0]["name"])
	assert.Equal(t, "schedule", workflows[0]["on"])
	assert.Zero(t, store.Count("jobs"))
}

func TestDecomposer_Save_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "jobs: [unclosed\n"},
		{"scalar document", "just a string\n"},
		{"empty document", ""},
		{"jobs is a list", "jobs:\n  - build\n"},
		{"steps is a mapping", "jobs:\n  build:\n    steps:\n      run: make\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store := setupDecomposer(t)
			ctx := context.Background()
			_, err := d.Save(ctx, 1, "ci.yml", oneJob)
			require.NoError(t, err)

			_, err = d.Save(ctx, 1, "ci.yml", tt.content)

			var invalid *custom_errors.ErrInvalidWorkflow
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "ci.yml", invalid.Filename)
			assert.Equal(t, 1, store.Count("workflows"), "previous decomposition is kept")
			assert.Equal(t, 2, store.Count("steps"))
		})
	}
}

func TestDecomposer_Save_RollsBackOnWriteFailure(t *testing.T) {
	d, store := setupDecomposer(t)
	ctx := context.Background()
	_, err := d.Save(ctx, 1, "ci.yml", twoJobs)
	require.NoError(t, err)

	store.WriteErr = func(table string) error {
		if table == "steps" {
			return assert.AnError
		}
		return nil
	}
	_, err = d.Save(ctx, 1, "ci.yml", oneJob)
	require.ErrorIs(t, err, assert.AnError)

	store.WriteErr = nil
	assert.Equal(t, 2, store.Count("jobs"))
	assert.Equal(t, 5, store.Count("steps"))
}

func TestDecomposer_Save_ScalarsAndExpressionsShareColumns(t *testing.T) {
	d, store := setupDecomposer(t)
	ctx := context.Background()

	_, err := d.Save(ctx, 1, "ci.yml", `jobs:
  test:
    timeout-minutes: 30
    steps:
      - run: make
        continue-on-error: true
        if: false
`)
	require.NoError(t, err)

	_, err = d.Save(ctx, 1, "matrix.yml", `jobs:
  test:
    timeout-minutes: ${{ inputs.timeout }}
    steps:
      - run: make
        continue-on-error: ${{ matrix.experimental }}
        if: github.event_name == 'push'
`)
	require.NoError(t, err)

	jobs := store.Rows("jobs")
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(30), jobs[0]["timeout-minutes"])
	assert.Equal(t, "${{ inputs.timeout }}", jobs[1]["timeout-minutes"])

	steps := store.Rows("steps")
	require.Len(t, steps, 2)
	assert.Equal(t, true, steps[0]["continue-on-error"])
	assert.Equal(t, "${{ matrix.experimental }}", steps[1]["continue-on-error"])
	assert.Equal(t, "github.event_name == 'push'", steps[1]["if"])
}

func TestDecomposer_Save_KeepsDocumentIDs(t *testing.T) {
	d, store := setupDecomposer(t)

	_, err := d.Save(context.Background(), 1, "release.yml", `jobs:
  release:
    steps:
      - id: version
        run: echo "v=1" >> "$GITHUB_OUTPUT"
      - run: echo ${{ steps.version.outputs.v }}
`)
	require.NoError(t, err)

	steps := store.Rows("steps")
	require.Len(t, steps, 2)
	assert.Equal(t, "version", steps[0]["step_id"])
	assert.Equal(t, int64(1), steps[0]["id"], "id is the surrogate key")
	assert.NotContains(t, steps[1], "step_id")
}

func TestDecomposer_Save_UnstorableValueIsInvalid(t *testing.T) {
	d, store := setupDecomposer(t)
	ctx := context.Background()
	_, err := d.Save(ctx, 1, "ci.yml", oneJob)
	require.NoError(t, err)

	store.WriteErr = func(table string) error {
		if table == "steps" {
			return &custom_errors.ErrMalformedRecord{Kind: "steps", Reason: "with: cannot store string as boolean"}
		}
		return nil
	}
	_, err = d.Save(ctx, 1, "ci.yml", twoJobs)

	var invalid *custom_errors.ErrInvalidWorkflow
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "ci.yml", invalid.Filename)

	store.WriteErr = nil
	assert.Equal(t, 1, store.Count("jobs"), "previous decomposition is kept")
	assert.Equal(t, 2, store.Count("steps"))
}
