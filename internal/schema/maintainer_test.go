// internal/schema/maintainer_test.go
package schema

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-ingest/internal/model"
)

// fakeCatalog is an in-memory Catalog.
type fakeCatalog struct {
	columns      map[string][]string
	foreignKeys  []model.ForeignKey
	indexed      map[string]bool
	fingerprints map[string]string
	vector       bool

	failFTS  map[string]bool
	failView map[string]bool
	tableErr error

	calls map[string]int
}

func newFakeCatalog(tables map[string][]string) *fakeCatalog {
	return &fakeCatalog{
		columns:      tables,
		indexed:      map[string]bool{},
		fingerprints: map[string]string{},
		failFTS:      map[string]bool{},
		failView:     map[string]bool{},
		calls:        map[string]int{},
	}
}

func (f *fakeCatalog) TableNames(ctx context.Context) (map[string]bool, error) {
	if f.tableErr != nil {
		return nil, f.tableErr
	}
	out := map[string]bool{}
	for t := range f.columns {
		out[t] = true
	}
	return out, nil
}

func (f *fakeCatalog) Columns(ctx context.Context, table string) ([]string, error) {
	cols, ok := f.columns[table]
	if !ok {
		return nil, nil
	}
	out := slices.Clone(cols)
	slices.Sort(out)
	return out, nil
}

func (f *fakeCatalog) ForeignKeys(ctx context.Context) ([]model.ForeignKey, error) {
	return slices.Clone(f.foreignKeys), nil
}

func (f *fakeCatalog) AddForeignKey(ctx context.Context, fk model.ForeignKey) error {
	f.calls["AddForeignKey"]++
	f.foreignKeys = append(f.foreignKeys, fk)
	return nil
}

func (f *fakeCatalog) IndexForeignKeys(ctx context.Context) (int, error) {
	created := 0
	for _, fk := range f.foreignKeys {
		key := fk.Table + "." + fk.Column
		if !f.indexed[key] {
			f.indexed[key] = true
			created++
		}
	}
	return created, nil
}

func (f *fakeCatalog) VectorEnabled() bool { return f.vector }

func (f *fakeCatalog) CreateTable(ctx context.Context, t model.Table) error {
	f.calls["CreateTable"]++
	var cols []string
	for c := range t.Columns {
		cols = append(cols, c)
	}
	f.columns[t.Name] = cols
	if f.columns["repos"] != nil {
		f.foreignKeys = append(f.foreignKeys, t.ForeignKeys...)
	}
	return nil
}

func (f *fakeCatalog) EnableFTS(ctx context.Context, t model.Table, columns []string) error {
	f.calls["EnableFTS"]++
	if f.failFTS[t.Name] {
		return errors.New("fts failed")
	}
	f.columns[t.Name+"_fts"] = append([]string{"document"}, t.PrimaryKey...)
	return nil
}

func (f *fakeCatalog) ViewFingerprint(ctx context.Context, name string) (string, error) {
	return f.fingerprints[name], nil
}

func (f *fakeCatalog) CreateView(ctx context.Context, name, definition, fingerprint string) error {
	f.calls["CreateView"]++
	if f.failView[name] {
		return errors.New("view failed")
	}
	f.fingerprints[name] = fingerprint
	return nil
}

func ingestedTables() map[string][]string {
	return map[string][]string{
		"users":      {"id", "login", "name"},
		"licenses":   {"key", "name"},
		"repos":      {"id", "owner", "license", "name", "full_name", "description", "html_url", "topics", "created_at", "updated_at", "stargazers_count", "watchers_count"},
		"issues":     {"id", "number", "title", "body", "user", "repo", "milestone"},
		"releases":   {"id", "repo", "author", "name", "body", "html_url", "published_at"},
		"stars":      {"user", "repo", "starred_at"},
		"dependents": {"repo", "dependent", "first_seen_utc"},
	}
}

func newTestMaintainer(c Catalog) *Maintainer {
	return NewMaintainer(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMaintainer_Ensure(t *testing.T) {
	catalog := newFakeCatalog(ingestedTables())
	m := newTestMaintainer(catalog)
	ctx := context.Background()

	report, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.True(t, report.Changed())

	assert.Contains(t, report.ForeignKeys, "repos.license")
	assert.Contains(t, report.ForeignKeys, "issues.repo")
	assert.Contains(t, report.ForeignKeys, "stars.user")
	assert.NotContains(t, report.ForeignKeys, "issues.milestone", "milestones table does not exist")
	assert.NotContains(t, report.ForeignKeys, "issues.assignee", "assignee column does not exist")
	assert.Positive(t, report.Indexes)

	assert.ElementsMatch(t, []string{"repo_embeddings", "readme_chunk_embeddings", "repo_build_files", "repo_metadata"}, report.Tables)
	assert.ElementsMatch(t, []string{"issues", "licenses", "releases", "repos", "users"}, report.SearchIndexes)
	assert.ElementsMatch(t, []string{"dependent_repos", "repos_starred", "recent_releases"}, report.Views)

	t.Run("second pass changes nothing", func(t *testing.T) {
		before := map[string]int{}
		for k, v := range catalog.calls {
			before[k] = v
		}

		report, err := m.Ensure(ctx)
		require.NoError(t, err)
		assert.False(t, report.Changed(), "%+v", report)
		assert.Equal(t, before, catalog.calls)
	})

	t.Run("widened tables rebuild dependent views", func(t *testing.T) {
		catalog.columns["releases"] = append(catalog.columns["releases"], "tag_name")

		report, err := m.Ensure(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"recent_releases"}, report.Views)
	})
}

func TestMaintainer_Ensure_OnlyPresentColumnsAreIndexed(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{
		"labels": {"id", "name"},
	})
	var indexed []string
	m := newTestMaintainer(&recordingCatalog{fakeCatalog: catalog, fts: &indexed})

	_, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, indexed)
}

type recordingCatalog struct {
	*fakeCatalog
	fts *[]string
}

func (r *recordingCatalog) EnableFTS(ctx context.Context, t model.Table, columns []string) error {
	*r.fts = append(*r.fts, columns...)
	return r.fakeCatalog.EnableFTS(ctx, t, columns)
}

func TestMaintainer_Ensure_SkipsFailures(t *testing.T) {
	catalog := newFakeCatalog(ingestedTables())
	catalog.failFTS["issues"] = true
	catalog.failView["repos_starred"] = true
	m := newTestMaintainer(catalog)

	report, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, report.SearchIndexes, "issues")
	assert.Contains(t, report.SearchIndexes, "repos")
	assert.NotContains(t, report.Views, "repos_starred")
	assert.Contains(t, report.Views, "recent_releases")
}

func TestMaintainer_Ensure_CatalogError(t *testing.T) {
	catalog := newFakeCatalog(nil)
	catalog.tableErr = errors.New("connection refused")

	_, err := newTestMaintainer(catalog).Ensure(context.Background())
	assert.ErrorIs(t, err, catalog.tableErr)
}

func TestMaintainer_Ensure_ViewsNeedAllTables(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{
		"repos":    {"id", "full_name", "html_url", "topics"},
		"releases": {"id", "repo", "html_url", "published_at", "body"},
	})

	report, err := newTestMaintainer(catalog).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"recent_releases"}, report.Views)
}

func TestMaintainer_Ensure_ViewsWaitForColumns(t *testing.T) {
	catalog := newFakeCatalog(map[string][]string{
		"repos":    {"id", "full_name"},
		"releases": {"id", "repo"},
	})
	m := newTestMaintainer(catalog)
	ctx := context.Background()

	report, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Views)
	assert.Zero(t, catalog.calls["CreateView"], "view must not be attempted without its columns")

	report, err = m.Ensure(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Views)
	assert.Zero(t, catalog.calls["CreateView"])

	catalog.columns["repos"] = append(catalog.columns["repos"], "html_url", "topics")
	catalog.columns["releases"] = append(catalog.columns["releases"], "html_url", "published_at", "body")

	report, err = m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recent_releases"}, report.Views)
	assert.Equal(t, 1, catalog.calls["CreateView"])
}

func TestViews(t *testing.T) {
	views := Views()
	names := make([]string, 0, len(views))
	for _, v := range views {
		names = append(names, v.Name)
		for table := range v.Columns {
			assert.Contains(t, v.Tables, table, "view %s", v.Name)
		}
		for _, table := range v.Tables {
			assert.NotEmpty(t, v.Columns[table], "view %s reads %s", v.Name, table)
		}
	}
	assert.Equal(t, []string{"dependent_repos", "repos_starred", "recent_releases"}, names)

	views[0].Name = "changed"
	_, ok := LookupView("dependent_repos")
	assert.True(t, ok, "Views returns a copy")
}

func TestView_MissingColumns(t *testing.T) {
	v, ok := LookupView("repos_starred")
	require.True(t, ok)

	present := [][]string{{"id", "owner"}, {"repo", "starred_at", "user"}, {"id", "login"}}
	assert.Empty(t, v.missingColumns(present))

	present[2] = []string{"id"}
	assert.Equal(t, []string{"users.login"}, v.missingColumns(present))
	assert.Len(t, v.missingColumns(nil), 7)
}

func TestFingerprint(t *testing.T) {
	v, ok := LookupView("recent_releases")
	require.True(t, ok)

	base := Fingerprint(v, [][]string{{"id", "repo"}, {"id"}})
	assert.Equal(t, base, Fingerprint(v, [][]string{{"id", "repo"}, {"id"}}))
	assert.NotEqual(t, base, Fingerprint(v, [][]string{{"id", "repo", "body"}, {"id"}}))

	changed := v
	changed.Definition += " LIMIT 10"
	assert.NotEqual(t, base, Fingerprint(changed, [][]string{{"id", "repo"}, {"id"}}))
}
