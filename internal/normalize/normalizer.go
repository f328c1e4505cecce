// internal/normalize/normalizer.go
package normalize

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// Normalizer decomposes GitHub API records into rows. Nested entities
// (users, licenses, milestones, labels) are written before the row that
// references them, so foreign keys always point at stored rows.
type Normalizer struct {
	store  database.Store
	logger *slog.Logger
}

func New(store database.Store, logger *slog.Logger) *Normalizer {
	return &Normalizer{store: store, logger: logger}
}

// SaveUser upserts a user and returns its id. A nil user is a deleted
// account and yields a nil id.
func (n *Normalizer) SaveUser(ctx context.Context, user model.Record) (*int64, error) {
	if user == nil {
		return nil, nil
	}
	row := user.WithoutURLs("avatar_url", "html_url")
	// Users nested in other records carry no name.
	if row["name"] == nil {
		row["name"] = row["login"]
	}
	id, ok := row.Int("id")
	if !ok {
		return nil, malformed("user", "missing id")
	}
	if err := n.store.Upsert(ctx, model.Users, row); err != nil {
		return nil, err
	}
	return &id, nil
}

// SaveLicense stores a license and returns its key.
func (n *Normalizer) SaveLicense(ctx context.Context, license model.Record) (*string, error) {
	if license == nil {
		return nil, nil
	}
	key := license.String("key")
	if key == "" {
		return nil, malformed("license", "missing key")
	}
	if err := n.store.Replace(ctx, model.Licenses, license.Clone()); err != nil {
		return nil, err
	}
	return &key, nil
}

// SaveRepo stores a repository with its owner, organization and license.
func (n *Normalizer) SaveRepo(ctx context.Context, repo model.Record) (int64, error) {
	id, ok := repo.Int("id")
	if !ok {
		return 0, malformed("repo", "missing id")
	}
	row := repo.WithoutURLs("html_url")

	owner, err := n.SaveUser(ctx, repo.Object("owner"))
	if err != nil {
		return 0, err
	}
	row["owner"] = ref(owner)

	license, err := n.SaveLicense(ctx, repo.Object("license"))
	if err != nil {
		return 0, err
	}
	if license != nil {
		row["license"] = *license
	} else {
		row["license"] = nil
	}

	org, err := n.SaveUser(ctx, repo.Object("organization"))
	if err != nil {
		return 0, err
	}
	row["organization"] = ref(org)

	if err := n.store.Replace(ctx, model.Repos, row); err != nil {
		return 0, err
	}
	return id, nil
}

// SaveRepos stores every repository of repos.
func (n *Normalizer) SaveRepos(ctx context.Context, repos iter.Seq2[model.Record, error]) (int, error) {
	return n.each(ctx, "repo", repos, func(r model.Record) error {
		_, err := n.SaveRepo(ctx, r)
		return err
	})
}

// SaveMilestone stores a milestone of repoID together with its creator.
func (n *Normalizer) SaveMilestone(ctx context.Context, milestone model.Record, repoID int64) (int64, error) {
	id, ok := milestone.Int("id")
	if !ok {
		return 0, malformed("milestone", "missing id")
	}
	row := milestone.Clone()
	creator, err := n.SaveUser(ctx, milestone.Object("creator"))
	if err != nil {
		return 0, err
	}
	row["creator"] = ref(creator)
	row["repo"] = repoID
	delete(row, "labels_url")
	delete(row, "url")

	if err := n.store.Replace(ctx, model.Milestones, row); err != nil {
		return 0, err
	}
	return id, nil
}

// each saves every record of records with save. Malformed records are
// logged and skipped; any other error ends the loop. It returns how many
// records were saved.
func (n *Normalizer) each(ctx context.Context, kind string, records iter.Seq2[model.Record, error], save func(model.Record) error) (int, error) {
	saved := 0
	for rec, err := range records {
		if err != nil {
			return saved, err
		}
		if err := save(rec); err != nil {
			if !skippable(err) {
				return saved, err
			}
			n.logger.Warn("Skipping record", "kind", kind, "error", err)
			continue
		}
		saved++
	}
	return saved, ctx.Err()
}

func skippable(err error) bool {
	var bad *custom_errors.ErrMalformedRecord
	return errors.As(err, &bad) || errors.Is(err, custom_errors.ErrMissingKey)
}

func malformed(kind, reason string) error {
	return &custom_errors.ErrMalformedRecord{Kind: kind, Reason: reason}
}

// ref converts an optional id into a record value.
func ref(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
