// internal/database/embeddings.go
package database

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// RepoEmbedding holds the sentence embeddings computed for one repository.
// Nil vectors are stored as NULL.
type RepoEmbedding struct {
	RepoID      int64
	Title       []float32
	Description []float32
	Readme      []float32
}

// ReadmeChunk is one embedded slice of a repository README.
type ReadmeChunk struct {
	RepoID    int64
	Index     int
	Text      string
	Embedding []float32
}

func (d *DB) SaveRepoEmbedding(ctx context.Context, e RepoEmbedding) error {
	if err := d.requireRepo(ctx, e.RepoID); err != nil {
		return err
	}
	return d.Upsert(ctx, model.RepoEmbeddings, model.Record{
		"repo_id":               e.RepoID,
		"title_embedding":       d.vectorValue(e.Title),
		"description_embedding": d.vectorValue(e.Description),
		"readme_embedding":      d.vectorValue(e.Readme),
	})
}

func (d *DB) SaveReadmeChunk(ctx context.Context, c ReadmeChunk) error {
	if err := d.requireRepo(ctx, c.RepoID); err != nil {
		return err
	}
	return d.Upsert(ctx, model.ReadmeChunkEmbeddings, model.Record{
		"repo_id":     c.RepoID,
		"chunk_index": int64(c.Index),
		"chunk_text":  c.Text,
		"embedding":   d.vectorValue(c.Embedding),
	})
}

// SaveBuildFile stores the parsed metadata of a build file (go.mod,
// package.json, ...) found in the repository checkout.
func (d *DB) SaveBuildFile(ctx context.Context, repoID int64, path string, metadata any) error {
	if err := d.requireRepo(ctx, repoID); err != nil {
		return err
	}
	return d.Upsert(ctx, model.RepoBuildFiles, model.Record{
		"repo_id":   repoID,
		"file_path": path,
		"metadata":  metadata,
	})
}

func (d *DB) SaveRepoMetadata(ctx context.Context, repoID int64, language string, tree any) error {
	if err := d.requireRepo(ctx, repoID); err != nil {
		return err
	}
	return d.Upsert(ctx, model.RepoMetadata, model.Record{
		"repo_id":        repoID,
		"language":       language,
		"directory_tree": tree,
	})
}

// HasRepoEmbedding reports whether embeddings were already computed for repoID.
func (d *DB) HasRepoEmbedding(ctx context.Context, repoID int64) (bool, error) {
	if err := d.requireRepo(ctx, repoID); err != nil {
		return false, err
	}
	rows, err := d.Find(ctx, model.RepoEmbeddings.Name, map[string]any{"repo_id": repoID})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (d *DB) requireRepo(ctx context.Context, repoID int64) error {
	rows, err := d.Find(ctx, model.Repos.Name, map[string]any{"id": repoID})
	if err != nil {
		return fmt.Errorf("failed to look up repository %d: %w", repoID, err)
	}
	if len(rows) == 0 {
		return &custom_errors.ErrRepoNotStored{RepoID: repoID}
	}
	return nil
}

func (d *DB) vectorValue(v []float32) any {
	if v == nil {
		return nil
	}
	if d.vector {
		return pgvector.NewVector(v)
	}
	return EncodeFloat32Blob(v)
}
