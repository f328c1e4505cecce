// internal/normalize/stars.go
package normalize

import (
	"context"
	"iter"
	"time"

	"github-ingest/internal/model"
)

// firstSeenLayout matches the timestamps already stored in dependents.
const firstSeenLayout = "2006-01-02T15:04:05.000000"

// SaveStars stores the repositories user starred, from a starred listing
// requested with the star media type.
func (n *Normalizer) SaveStars(ctx context.Context, user model.Record, stars iter.Seq2[model.Record, error]) (int, error) {
	userID, err := n.SaveUser(ctx, user)
	if err != nil {
		return 0, err
	}
	if userID == nil {
		return 0, malformed("star", "missing starring user")
	}
	return n.each(ctx, "star", stars, func(star model.Record) error {
		repo := star.Object("repo")
		if repo == nil {
			return malformed("star", "missing repo")
		}
		repoID, err := n.SaveRepo(ctx, repo)
		if err != nil {
			return err
		}
		return n.store.Replace(ctx, model.Stars, model.Record{
			"user":       *userID,
			"repo":       repoID,
			"starred_at": star["starred_at"],
		})
	})
}

// SaveStargazers stores the users who starred repoID.
func (n *Normalizer) SaveStargazers(ctx context.Context, repoID int64, stargazers iter.Seq2[model.Record, error]) (int, error) {
	return n.each(ctx, "stargazer", stargazers, func(s model.Record) error {
		userID, err := n.SaveUser(ctx, s.Object("user"))
		if err != nil {
			return err
		}
		if userID == nil {
			return malformed("stargazer", "missing user")
		}
		return n.store.Upsert(ctx, model.Stars, model.Record{
			"user":       *userID,
			"repo":       repoID,
			"starred_at": s["starred_at"],
		})
	})
}

// SaveDependent records that dependentID depends on repoID. The first
// sighting is kept; later calls report false and change nothing.
func (n *Normalizer) SaveDependent(ctx context.Context, repoID, dependentID int64, seen time.Time) (bool, error) {
	key := map[string]any{"repo": repoID, "dependent": dependentID}
	existing, err := n.store.Find(ctx, model.Dependents.Name, key)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	return n.store.InsertIgnore(ctx, model.Dependents, model.Record{
		"repo":           repoID,
		"dependent":      dependentID,
		"first_seen_utc": seen.UTC().Format(firstSeenLayout),
	})
}

// SaveEmojis upserts emoji records of the form {name, url[, image]}.
func (n *Normalizer) SaveEmojis(ctx context.Context, emojis iter.Seq2[model.Record, error]) (int, error) {
	return n.each(ctx, "emoji", emojis, func(e model.Record) error {
		if e.String("name") == "" {
			return malformed("emoji", "missing name")
		}
		return n.store.Upsert(ctx, model.Emojis, e.Clone())
	})
}

// SaveReadme sets the readme (or readme_html) column of a stored repo.
func (n *Normalizer) SaveReadme(ctx context.Context, repoID int64, readme string, html bool) error {
	column := "readme"
	if html {
		column = "readme_html"
	}
	return n.store.Upsert(ctx, model.Repos, model.Record{"id": repoID, column: readme})
}
