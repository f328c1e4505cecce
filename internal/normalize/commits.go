// internal/normalize/commits.go
package normalize

import (
	"context"
	"iter"

	"github-ingest/internal/model"
)

// SaveCommits stores commits with their raw and matched authors. repoID may
// be nil for commits fetched without repository context.
func (n *Normalizer) SaveCommits(ctx context.Context, commits iter.Seq2[model.Record, error], repoID *int64) (int, error) {
	return n.each(ctx, "commit", commits, func(c model.Record) error {
		return n.saveCommit(ctx, c, repoID)
	})
}

func (n *Normalizer) saveCommit(ctx context.Context, c model.Record, repoID *int64) error {
	sha := c.String("sha")
	if sha == "" {
		return malformed("commit", "missing sha")
	}
	detail := c.Object("commit")
	if detail == nil {
		return malformed("commit", "missing commit details")
	}
	rawAuthor, rawCommitter := detail.Object("author"), detail.Object("committer")

	row := model.Record{
		"sha":            sha,
		"message":        detail["message"],
		"author_date":    rawAuthor["date"],
		"committer_date": rawCommitter["date"],
		"repo":           ref(repoID),
	}

	var err error
	if row["raw_author"], err = n.saveRawAuthor(ctx, rawAuthor); err != nil {
		return err
	}
	if row["raw_committer"], err = n.saveRawAuthor(ctx, rawCommitter); err != nil {
		return err
	}

	// GitHub leaves these null when the email matches no account.
	author, err := n.SaveUser(ctx, c.Object("author"))
	if err != nil {
		return err
	}
	row["author"] = ref(author)
	committer, err := n.SaveUser(ctx, c.Object("committer"))
	if err != nil {
		return err
	}
	row["committer"] = ref(committer)

	return n.store.Replace(ctx, model.Commits, row)
}

// SaveCommitAuthor stores a raw git identity and returns its content hash.
func (n *Normalizer) SaveCommitAuthor(ctx context.Context, raw model.Record) (string, error) {
	name, email := raw["name"], raw["email"]
	id := model.RawAuthorID(name, email)
	if err := n.store.Replace(ctx, model.RawAuthors, model.Record{
		"id":    id,
		"name":  name,
		"email": email,
	}); err != nil {
		return "", err
	}
	return id, nil
}

func (n *Normalizer) saveRawAuthor(ctx context.Context, raw model.Record) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return n.SaveCommitAuthor(ctx, raw)
}
