// internal/model/tables.go
package model

// ColumnType is the storage type of a column.
type ColumnType string

const (
	Text   ColumnType = "text"
	BigInt ColumnType = "bigint"
	Float  ColumnType = "double precision"
	Bool   ColumnType = "boolean"
	JSON   ColumnType = "jsonb"
	Bytes  ColumnType = "bytea"
	// Vector is resolved by the store to a pgvector column when the
	// extension is available and to Bytes otherwise.
	Vector ColumnType = "vector"
)

// EmbeddingDimensions is the width of every embedding column.
const EmbeddingDimensions = 768

// ForeignKey declares Table.Column -> RefTable.RefColumn.
type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// Table describes how rows of one entity are stored.
type Table struct {
	Name       string
	PrimaryKey []string
	// Surrogate marks a single-column primary key generated by the store.
	Surrogate bool
	// Document marks tables decomposed from free-form YAML. Their
	// undeclared columns are jsonb.
	Document    bool
	Columns     map[string]ColumnType
	ForeignKeys []ForeignKey
}

// ColumnType returns the declared type of column, if any.
func (t Table) ColumnType(column string) (ColumnType, bool) {
	ct, ok := t.Columns[column]
	return ct, ok
}

func newTable(name string, pk []string, cols map[string]ColumnType, refs ...[3]string) Table {
	t := Table{Name: name, PrimaryKey: pk, Columns: cols}
	for _, r := range refs {
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{Table: name, Column: r[0], RefTable: r[1], RefColumn: r[2]})
	}
	return t
}

var (
	Users = newTable("users", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "login": Text, "name": Text,
	})
	Licenses = newTable("licenses", []string{"key"}, map[string]ColumnType{
		"key": Text, "name": Text,
	})
	Repos = newTable("repos", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "owner": BigInt, "organization": BigInt, "license": Text,
		"name": Text, "full_name": Text, "description": Text, "topics": JSON,
	},
		[3]string{"owner", "users", "id"},
		[3]string{"organization", "users", "id"},
		[3]string{"license", "licenses", "key"},
	)
	Milestones = newTable("milestones", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "title": Text, "description": Text, "creator": BigInt, "repo": BigInt,
	},
		[3]string{"creator", "users", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Issues = newTable("issues", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "number": BigInt, "user": BigInt, "assignee": BigInt, "milestone": BigInt,
		"repo": BigInt, "title": Text, "body": Text, "type": Text,
	},
		[3]string{"user", "users", "id"},
		[3]string{"assignee", "users", "id"},
		[3]string{"milestone", "milestones", "id"},
		[3]string{"repo", "repos", "id"},
	)
	PullRequests = newTable("pull_requests", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "number": BigInt, "user": BigInt, "assignee": BigInt, "milestone": BigInt,
		"repo": BigInt, "merged_by": BigInt, "title": Text, "body": Text, "url": Text,
		"head": Text, "base": Text,
	},
		[3]string{"user", "users", "id"},
		[3]string{"merged_by", "users", "id"},
		[3]string{"assignee", "users", "id"},
		[3]string{"milestone", "milestones", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Labels = newTable("labels", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "name": Text, "description": Text,
	})
	IssueLabels = newTable("issues_labels", []string{"issues_id", "labels_id"}, map[string]ColumnType{
		"issues_id": BigInt, "labels_id": BigInt,
	},
		[3]string{"issues_id", "issues", "id"},
		[3]string{"labels_id", "labels", "id"},
	)
	PullRequestLabels = newTable("labels_pull_requests", []string{"labels_id", "pull_requests_id"}, map[string]ColumnType{
		"labels_id": BigInt, "pull_requests_id": BigInt,
	},
		[3]string{"labels_id", "labels", "id"},
		[3]string{"pull_requests_id", "pull_requests", "id"},
	)
	IssueComments = newTable("issue_comments", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "user": BigInt, "issue": BigInt, "body": Text,
	},
		[3]string{"user", "users", "id"},
		[3]string{"issue", "issues", "id"},
	)
	Releases = newTable("releases", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "repo": BigInt, "author": BigInt, "name": Text, "body": Text,
		"html_url": Text, "published_at": Text,
	},
		[3]string{"author", "users", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Assets = newTable("assets", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "uploader": BigInt, "release": BigInt,
	},
		[3]string{"uploader", "users", "id"},
		[3]string{"release", "releases", "id"},
	)
	Tags = newTable("tags", []string{"repo", "name"}, map[string]ColumnType{
		"repo": BigInt, "name": Text, "sha": Text,
	},
		[3]string{"repo", "repos", "id"},
	)
	Contributors = newTable("contributors", []string{"repo_id", "user_id"}, map[string]ColumnType{
		"repo_id": BigInt, "user_id": BigInt, "contributions": BigInt,
	},
		[3]string{"repo_id", "repos", "id"},
		[3]string{"user_id", "users", "id"},
	)
	RawAuthors = newTable("raw_authors", []string{"id"}, map[string]ColumnType{
		"id": Text, "name": Text, "email": Text,
	})
	Commits = newTable("commits", []string{"sha"}, map[string]ColumnType{
		"sha": Text, "message": Text, "author_date": Text, "committer_date": Text,
		"raw_author": Text, "raw_committer": Text, "repo": BigInt, "author": BigInt, "committer": BigInt,
	},
		[3]string{"author", "users", "id"},
		[3]string{"committer", "users", "id"},
		[3]string{"raw_author", "raw_authors", "id"},
		[3]string{"raw_committer", "raw_authors", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Stars = newTable("stars", []string{"user", "repo"}, map[string]ColumnType{
		"user": BigInt, "repo": BigInt, "starred_at": Text,
	},
		[3]string{"user", "users", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Dependents = newTable("dependents", []string{"repo", "dependent"}, map[string]ColumnType{
		"repo": BigInt, "dependent": BigInt, "first_seen_utc": Text,
	},
		[3]string{"repo", "repos", "id"},
		[3]string{"dependent", "repos", "id"},
	)
	Workflows = newTable("workflows", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "filename": Text, "name": Text, "repo": BigInt, "workflow_id": Text,
	},
		[3]string{"repo", "repos", "id"},
	)
	Jobs = newTable("jobs", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "workflow": BigInt, "name": Text, "repo": BigInt, "job_id": Text,
	},
		[3]string{"workflow", "workflows", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Steps = newTable("steps", []string{"id"}, map[string]ColumnType{
		"id": BigInt, "seq": BigInt, "job": BigInt, "repo": BigInt, "name": Text, "step_id": Text,
	},
		[3]string{"job", "jobs", "id"},
		[3]string{"repo", "repos", "id"},
	)
	Emojis = newTable("emojis", []string{"name"}, map[string]ColumnType{
		"name": Text, "url": Text, "image": Bytes,
	})

	RepoEmbeddings = newTable("repo_embeddings", []string{"repo_id"}, map[string]ColumnType{
		"repo_id": BigInt, "title_embedding": Vector, "description_embedding": Vector, "readme_embedding": Vector,
	},
		[3]string{"repo_id", "repos", "id"},
	)
	ReadmeChunkEmbeddings = newTable("readme_chunk_embeddings", []string{"repo_id", "chunk_index"}, map[string]ColumnType{
		"repo_id": BigInt, "chunk_index": BigInt, "chunk_text": Text, "embedding": Vector,
	},
		[3]string{"repo_id", "repos", "id"},
	)
	RepoBuildFiles = newTable("repo_build_files", []string{"repo_id", "file_path"}, map[string]ColumnType{
		"repo_id": BigInt, "file_path": Text, "metadata": JSON,
	},
		[3]string{"repo_id", "repos", "id"},
	)
	RepoMetadata = newTable("repo_metadata", []string{"repo_id"}, map[string]ColumnType{
		"repo_id": BigInt, "language": Text, "directory_tree": JSON,
	},
		[3]string{"repo_id", "repos", "id"},
	)
)

func init() {
	for _, t := range []*Table{&Workflows, &Jobs, &Steps} {
		t.Surrogate = true
		t.Document = true
	}
}

// EntityTables lists the tables written by the normalizer and the workflow
// decomposer.
func EntityTables() []Table {
	return []Table{
		Users, Licenses, Repos, Milestones, Issues, PullRequests, Labels, IssueLabels,
		PullRequestLabels, IssueComments, Releases, Assets, Tags, Contributors, RawAuthors,
		Commits, Stars, Dependents, Workflows, Jobs, Steps, Emojis,
	}
}

// EmbeddingTables lists the tables the embedding pipeline attaches to repos.
func EmbeddingTables() []Table {
	return []Table{RepoEmbeddings, ReadmeChunkEmbeddings, RepoBuildFiles, RepoMetadata}
}

// ExpectedForeignKeys is every foreign key declared by the registry.
func ExpectedForeignKeys() []ForeignKey {
	var out []ForeignKey
	for _, t := range append(EntityTables(), EmbeddingTables()...) {
		out = append(out, t.ForeignKeys...)
	}
	return out
}

// Lookup returns the registered table with the given name.
func Lookup(name string) (Table, bool) {
	for _, t := range append(EntityTables(), EmbeddingTables()...) {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
