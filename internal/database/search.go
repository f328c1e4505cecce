// internal/database/search.go
package database

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// Search ranks the rows of table against a web-style query using the
// table's full-text index.
func (d *DB) Search(ctx context.Context, table, query string, limit uint64) ([]model.Record, error) {
	t, ok := model.Lookup(table)
	if !ok {
		return nil, custom_errors.ErrNotSearchable
	}
	indexed, err := d.relationExists(ctx, table+"_fts")
	if err != nil {
		return nil, err
	}
	if !indexed {
		return nil, custom_errors.ErrNotSearchable
	}

	on := make([]string, len(t.PrimaryKey))
	for i, pk := range t.PrimaryKey {
		on[i] = "f." + ident(pk) + " = t." + ident(pk)
	}
	b := psql.Select("t.*").
		Column(sq.Expr("ts_rank(f.document, websearch_to_tsquery('english', ?)) AS rank", query)).
		From(ident(table) + " t").
		Join(ident(table+"_fts") + " f ON " + strings.Join(on, " AND ")).
		Where(sq.Expr("f.document @@ websearch_to_tsquery('english', ?)", query)).
		OrderBy("rank DESC")
	if limit > 0 {
		b = b.Limit(limit)
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build search on %s: %w", table, err)
	}
	return d.collect(ctx, sql, args...)
}
