// internal/database/runs.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Run is one row of ingest_runs: the outcome of a single syncer command.
type Run struct {
	ID          int64     `json:"id"`
	Command     string    `json:"command"`
	Target      string    `json:"target"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Items       int64     `json:"items"`
	Diagnostics []string  `json:"diagnostics"`
	Error       string    `json:"error,omitempty"`
}

// RecordRun inserts r and returns its id.
func (d *DB) RecordRun(ctx context.Context, r Run) (int64, error) {
	if r.Diagnostics == nil {
		r.Diagnostics = []string{}
	}
	diagnostics, err := json.Marshal(r.Diagnostics)
	if err != nil {
		return 0, err
	}
	query, args, err := psql.Insert("ingest_runs").
		Columns("command", "target", "started_at", "finished_at", "items", "diagnostics", "error").
		Values(r.Command, r.Target, r.StartedAt, r.FinishedAt, r.Items, json.RawMessage(diagnostics), r.Error).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := d.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit uint64) ([]Run, error) {
	query, args, err := psql.Select("id", "command", "target", "started_at", "finished_at", "items", "diagnostics", "error").
		From("ingest_runs").
		OrderBy("started_at DESC", "id DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Target, &r.StartedAt, &r.FinishedAt, &r.Items, &r.Diagnostics, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
