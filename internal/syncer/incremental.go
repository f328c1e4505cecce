// internal/syncer/incremental.go
package syncer

import (
	"context"

	"github-ingest/internal/database"
	"github-ingest/internal/github"
	"github-ingest/internal/model"
)

// KnownCommit returns a stop predicate that ends a commit walk at the first
// commit already stored. Commits are listed newest first, so everything
// after it was stored by an earlier run. A force-push that rewrites history
// below a known commit is not picked up; FETCH_ALL_COMMITS walks everything.
func KnownCommit(store database.Store) github.StopFunc {
	return func(ctx context.Context, rec model.Record) (bool, error) {
		sha := rec.String("sha")
		if sha == "" {
			return false, nil
		}
		rows, err := store.Find(ctx, model.Commits.Name, map[string]any{"sha": sha})
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	}
}
