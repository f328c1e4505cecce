// internal/schema/views.go
package schema

import "slices"

// View is a derived view created once all of its tables exist and carry
// the columns it reads.
type View struct {
	Name       string
	Tables     []string
	Columns    map[string][]string
	Definition string
}

// ftsColumns lists the columns indexed for full-text search per table.
var ftsColumns = map[string][]string{
	"commits":        {"message"},
	"issue_comments": {"body"},
	"issues":         {"title", "body"},
	"pull_requests":  {"title", "body"},
	"labels":         {"name", "description"},
	"licenses":       {"name"},
	"milestones":     {"title", "description"},
	"releases":       {"name", "body"},
	"repos":          {"name", "description"},
	"users":          {"login", "name"},
}

var views = []View{
	{
		Name:   "dependent_repos",
		Tables: []string{"dependents", "repos"},
		Columns: map[string][]string{
			"dependents": {"repo", "dependent"},
			"repos":      {"id", "full_name", "created_at", "updated_at", "stargazers_count", "watchers_count"},
		},
		Definition: `SELECT
  repos.full_name AS repo,
  'https://github.com/' || dependent_repos.full_name AS dependent,
  dependent_repos.created_at AS dependent_created,
  dependent_repos.updated_at AS dependent_updated,
  dependent_repos.stargazers_count AS dependent_stars,
  dependent_repos.watchers_count AS dependent_watchers
FROM
  dependents
  JOIN repos AS dependent_repos ON dependents.dependent = dependent_repos.id
  JOIN repos ON dependents.repo = repos.id
ORDER BY
  dependent_repos.created_at DESC`,
	},
	{
		Name:   "repos_starred",
		Tables: []string{"repos", "stars", "users"},
		Columns: map[string][]string{
			"repos": {"id", "owner"},
			"stars": {"user", "repo", "starred_at"},
			"users": {"id", "login"},
		},
		Definition: `SELECT
  stars.starred_at,
  starring_user.login AS starred_by,
  repos.*
FROM
  repos
  JOIN stars ON repos.id = stars.repo
  JOIN users AS starring_user ON stars."user" = starring_user.id
  JOIN users ON repos.owner = users.id
ORDER BY
  starred_at DESC`,
	},
	{
		Name:   "recent_releases",
		Tables: []string{"releases", "repos"},
		Columns: map[string][]string{
			"releases": {"repo", "html_url", "published_at", "body"},
			"repos":    {"id", "html_url", "topics"},
		},
		Definition: `SELECT
  repos.id AS repo_id,
  repos.html_url AS repo,
  releases.html_url AS release,
  substr(releases.published_at, 1, 10) AS date,
  releases.body AS body_markdown,
  releases.published_at,
  coalesce(repos.topics, '[]'::jsonb) AS topics
FROM
  releases
  JOIN repos ON repos.id = releases.repo
ORDER BY
  releases.published_at DESC`,
	},
}

// Views returns the derived views in creation order.
func Views() []View {
	return append([]View(nil), views...)
}

// missingColumns lists the columns v reads that are absent from the given
// column lists, one per table of v.Tables.
func (v View) missingColumns(columns [][]string) []string {
	var missing []string
	for i, table := range v.Tables {
		for _, c := range v.Columns[table] {
			if i >= len(columns) || !slices.Contains(columns[i], c) {
				missing = append(missing, table+"."+c)
			}
		}
	}
	return missing
}

// LookupView returns the view called name.
func LookupView(name string) (View, bool) {
	for _, v := range Views() {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}
