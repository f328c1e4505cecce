// internal/normalize/releases.go
package normalize

import (
	"context"
	"iter"

	"github-ingest/internal/model"
)

// SaveReleases stores releases and their assets. repoID is nil when the
// releases were fetched without repository context.
func (n *Normalizer) SaveReleases(ctx context.Context, releases iter.Seq2[model.Record, error], repoID *int64) (int, error) {
	return n.each(ctx, "release", releases, func(r model.Record) error {
		return n.saveRelease(ctx, r, repoID)
	})
}

func (n *Normalizer) saveRelease(ctx context.Context, release model.Record, repoID *int64) error {
	id, ok := release.Int("id")
	if !ok {
		return malformed("release", "missing id")
	}
	row := release.WithoutURLs("html_url")
	assets := release.Objects("assets")
	delete(row, "assets")
	row["repo"] = ref(repoID)

	author, err := n.SaveUser(ctx, release.Object("author"))
	if err != nil {
		return err
	}
	row["author"] = ref(author)

	if err := n.store.Replace(ctx, model.Releases, row); err != nil {
		return err
	}

	for _, asset := range assets {
		a := asset.Clone()
		uploader, err := n.SaveUser(ctx, asset.Object("uploader"))
		if err != nil {
			return err
		}
		a["uploader"] = ref(uploader)
		a["release"] = id
		if err := n.store.Upsert(ctx, model.Assets, a); err != nil {
			return err
		}
	}
	return nil
}

// SaveContributors stores the contributors of repoID. Each record is a user
// with an extra contributions count.
func (n *Normalizer) SaveContributors(ctx context.Context, contributors iter.Seq2[model.Record, error], repoID int64) (int, error) {
	return n.each(ctx, "contributor", contributors, func(c model.Record) error {
		user := c.Clone()
		contributions := user.Pop("contributions")
		userID, err := n.SaveUser(ctx, user)
		if err != nil {
			return err
		}
		if userID == nil {
			return malformed("contributor", "missing user")
		}
		return n.store.Replace(ctx, model.Contributors, model.Record{
			"repo_id":       repoID,
			"user_id":       *userID,
			"contributions": contributions,
		})
	})
}

// SaveTags stores tag name and target sha of repoID.
func (n *Normalizer) SaveTags(ctx context.Context, tags iter.Seq2[model.Record, error], repoID int64) (int, error) {
	return n.each(ctx, "tag", tags, func(t model.Record) error {
		name := t.String("name")
		if name == "" {
			return malformed("tag", "missing name")
		}
		return n.store.Replace(ctx, model.Tags, model.Record{
			"repo": repoID,
			"name": name,
			"sha":  t.Object("commit")["sha"],
		})
	})
}
