// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/github"
	"github-ingest/internal/model"
	"github-ingest/internal/normalize"
	"github-ingest/internal/schema"
	"github-ingest/internal/workflow"
)

// Per-repository resources.
const (
	ResourceRepos         = "repos"
	ResourceIssues        = "issues"
	ResourcePulls         = "pulls"
	ResourceIssueComments = "issue-comments"
	ResourceReleases      = "releases"
	ResourceTags          = "tags"
	ResourceContributors  = "contributors"
	ResourceCommits       = "commits"
	ResourceStargazers    = "stargazers"
	ResourceWorkflows     = "workflows"
	ResourceDependents    = "dependents"
)

// KnownResources lists every resource in the order a repository is synced.
var KnownResources = []string{
	ResourceRepos, ResourceIssues, ResourcePulls, ResourceIssueComments, ResourceReleases,
	ResourceTags, ResourceContributors, ResourceCommits, ResourceStargazers, ResourceWorkflows,
	ResourceDependents,
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

func (r RepoIdentifier) String() string {
	return r.Owner + "/" + r.Name
}

// DependentsSource lists the full names of repositories that depend on a
// repository.
type DependentsSource interface {
	Dependents(ctx context.Context, repo string) ([]string, error)
}

// SchemaMaintainer is run after every command.
type SchemaMaintainer interface {
	Ensure(ctx context.Context) (schema.Report, error)
}

// RunRecorder keeps one row per executed command.
type RunRecorder interface {
	RecordRun(ctx context.Context, r database.Run) (int64, error)
}

// Options selects what a cycle syncs.
type Options struct {
	Repos         []string
	Users         []string
	Orgs          []string
	Resources     []string
	SyncStarred   bool
	StarredUser   string
	SearchQueries []string
	PullState     string
	IssueNumbers  []int
	PullNumbers   []int

	FetchAllCommits  bool
	FetchReadme      bool
	FetchReadmeHTML  bool
	FetchEmojis      bool
	FetchEmojiImages bool

	Interval time.Duration
	Cooldown time.Duration
	RunOnce  bool
}

// Deps are the collaborators of a Syncer. Maintainer, Runs and Dependents
// are optional.
type Deps struct {
	Client     *github.Client
	Store      database.Store
	Maintainer SchemaMaintainer
	Runs       RunRecorder
	Dependents DependentsSource
	Logger     *slog.Logger
}

// Syncer runs ingestion commands one after the other.
type Syncer struct {
	client     *github.Client
	store      database.Store
	normalizer *normalize.Normalizer
	workflows  *workflow.Decomposer
	maintainer SchemaMaintainer
	runs       RunRecorder
	dependents DependentsSource
	logger     *slog.Logger

	repos     []RepoIdentifier
	resources []string
	opts      Options
	now       func() time.Time
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(deps Deps, opts Options) (*Syncer, error) {
	parsedRepos, err := parseRepoIdentifiers(opts.Repos)
	if err != nil {
		return nil, err
	}
	resources := opts.Resources
	if len(resources) == 0 {
		resources = slices.DeleteFunc(slices.Clone(KnownResources), func(r string) bool { return r == ResourceDependents })
	}
	for _, r := range resources {
		if !slices.Contains(KnownResources, r) {
			return nil, &custom_errors.ErrUnknownResource{Resource: r}
		}
	}

	return &Syncer{
		client:     deps.Client,
		store:      deps.Store,
		normalizer: normalize.New(deps.Store, deps.Logger),
		workflows:  workflow.New(deps.Store, deps.Logger),
		maintainer: deps.Maintainer,
		runs:       deps.Runs,
		dependents: deps.Dependents,
		logger:     deps.Logger,
		repos:      parsedRepos,
		resources:  resources,
		opts:       opts,
		now:        time.Now,
	}, nil
}

// Start runs a cycle immediately and then once per interval until ctx is
// done. With RunOnce it returns after the first cycle.
func (s *Syncer) Start(ctx context.Context) error {
	s.logger.Info("Starting syncer", "interval", s.opts.Interval.String(), "repos", len(s.repos))
	s.RunCycle(ctx)
	if s.opts.RunOnce {
		s.logger.Info("Single cycle finished")
		return nil
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// RunCycle executes every configured command once. Command failures are
// logged and recorded; they never stop the cycle.
func (s *Syncer) RunCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")

	first := true
	pause := func() bool {
		if !first && !sleep(ctx, s.opts.Cooldown) {
			return false
		}
		first = false
		return true
	}

	for _, id := range s.repos {
		if !pause() {
			return
		}
		s.syncRepo(ctx, id)
	}
	for _, user := range s.opts.Users {
		if !pause() {
			return
		}
		s.run(ctx, "user-repos", user, func(ctx context.Context) (int, []error, error) {
			return s.saveRepoListing(ctx, s.client.UserRepos(user))
		})
	}
	for _, org := range s.opts.Orgs {
		if !pause() {
			return
		}
		s.run(ctx, "org-repos", org, func(ctx context.Context) (int, []error, error) {
			return s.saveRepoListing(ctx, s.client.OrgRepos(org))
		})
	}
	if s.opts.SyncStarred {
		s.run(ctx, "starred", s.opts.StarredUser, s.syncStarred)
	}
	for _, query := range s.opts.SearchQueries {
		s.run(ctx, "search-pulls", query, func(ctx context.Context) (int, []error, error) {
			return s.syncSearch(ctx, query)
		})
	}
	if s.opts.FetchEmojis {
		s.run(ctx, "emojis", "", s.syncEmojis)
	}

	s.logger.Info("Sync cycle finished")
}

// syncRepo stores the repository itself and then each configured resource.
func (s *Syncer) syncRepo(ctx context.Context, id RepoIdentifier) {
	fullName := id.String()
	var repoID int64
	err := s.run(ctx, ResourceRepos, fullName, func(ctx context.Context) (int, []error, error) {
		repo, err := s.client.Repo(ctx, fullName)
		if err != nil {
			return 0, nil, err
		}
		if repoID, err = s.normalizer.SaveRepo(ctx, repo); err != nil {
			return 0, nil, err
		}
		return 1, nil, s.saveReadme(ctx, fullName, repoID)
	})
	if err != nil {
		return
	}

	for _, resource := range s.resources {
		if resource == ResourceRepos {
			continue
		}
		command, ok := s.command(resource, fullName, repoID)
		if !ok {
			continue
		}
		s.run(ctx, resource, fullName, command)
	}
}

type commandFunc func(ctx context.Context) (items int, diagnostics []error, err error)

func (s *Syncer) command(resource, repo string, repoID int64) (commandFunc, bool) {
	walked := func(w *github.Walk, save func(context.Context, iter.Seq2[model.Record, error]) (int, error)) commandFunc {
		return func(ctx context.Context) (int, []error, error) {
			n, err := save(ctx, w.Records(ctx))
			return n, w.Diagnostics(), err
		}
	}

	switch resource {
	case ResourceIssues:
		if len(s.opts.IssueNumbers) > 0 {
			return s.numbered(repo, s.opts.IssueNumbers, s.client.Issue, func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
				return s.normalizer.SaveIssues(ctx, seq, repoID)
			}), true
		}
		return walked(s.client.Issues(repo), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveIssues(ctx, seq, repoID)
		}), true
	case ResourcePulls:
		if len(s.opts.PullNumbers) > 0 {
			return s.numbered(repo, s.opts.PullNumbers, s.client.PullRequest, func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
				return s.normalizer.SavePullRequests(ctx, seq, repoID)
			}), true
		}
		return walked(s.client.PullRequests(repo, s.opts.PullState), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SavePullRequests(ctx, seq, repoID)
		}), true
	case ResourceIssueComments:
		return walked(s.client.IssueComments(repo, 0), s.normalizer.SaveIssueComments), true
	case ResourceReleases:
		return walked(s.client.Releases(repo), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveReleases(ctx, seq, &repoID)
		}), true
	case ResourceTags:
		return walked(s.client.Tags(repo), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveTags(ctx, seq, repoID)
		}), true
	case ResourceContributors:
		return walked(s.client.Contributors(repo), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveContributors(ctx, seq, repoID)
		}), true
	case ResourceCommits:
		var opts []github.PageOption
		if !s.opts.FetchAllCommits {
			opts = append(opts, github.WithStop(KnownCommit(s.store)))
		}
		return walked(s.client.Commits(repo, opts...), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveCommits(ctx, seq, &repoID)
		}), true
	case ResourceStargazers:
		return walked(s.client.Stargazers(repo), func(ctx context.Context, seq iter.Seq2[model.Record, error]) (int, error) {
			return s.normalizer.SaveStargazers(ctx, repoID, seq)
		}), true
	case ResourceWorkflows:
		return func(ctx context.Context) (int, []error, error) {
			return s.syncWorkflows(ctx, repo, repoID)
		}, true
	case ResourceDependents:
		if s.dependents == nil {
			s.logger.Warn("No dependents source configured, skipping", "repo", repo)
			return nil, false
		}
		return func(ctx context.Context) (int, []error, error) {
			return s.syncDependents(ctx, repo, repoID)
		}, true
	}
	return nil, false
}

// numbered fetches single items of repo by number instead of walking the
// whole listing.
func (s *Syncer) numbered(repo string, numbers []int, fetch func(context.Context, string, int) (model.Record, error),
	save func(context.Context, iter.Seq2[model.Record, error]) (int, error)) commandFunc {
	return func(ctx context.Context) (int, []error, error) {
		records := make([]model.Record, 0, len(numbers))
		for _, number := range numbers {
			rec, err := fetch(ctx, repo, number)
			if err != nil {
				return 0, nil, fmt.Errorf("failed to fetch #%d: %w", number, err)
			}
			records = append(records, rec)
		}
		n, err := save(ctx, model.Seq(records...))
		return n, nil, err
	}
}

// run executes one command, records it and runs the schema maintainer.
func (s *Syncer) run(ctx context.Context, command, target string, fn commandFunc) error {
	logger := s.logger.With("command", command, "target", target)
	logger.Info("Running command")

	run := database.Run{Command: command, Target: target, StartedAt: s.now().UTC()}
	items, diagnostics, err := fn(ctx)
	run.FinishedAt = s.now().UTC()
	run.Items = int64(items)
	for _, d := range diagnostics {
		run.Diagnostics = append(run.Diagnostics, d.Error())
	}
	if err != nil {
		run.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			logger.Error("Command failed", "items", items, "error", err)
		}
	} else {
		logger.Info("Command finished", "items", items, "diagnostics", len(diagnostics))
	}

	if s.runs != nil {
		if _, rerr := s.runs.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			logger.Warn("Failed to record run", "error", rerr)
		}
	}
	if s.maintainer != nil && ctx.Err() == nil {
		report, merr := s.maintainer.Ensure(ctx)
		if merr != nil {
			logger.Error("Schema maintenance failed", "error", merr)
		} else if report.Changed() {
			logger.Info("Schema updated",
				"foreign_keys", len(report.ForeignKeys),
				"indexes", report.Indexes,
				"tables", report.Tables,
				"search", report.SearchIndexes,
				"views", report.Views)
		}
	}
	return err
}

func (s *Syncer) saveReadme(ctx context.Context, repo string, repoID int64) error {
	for _, html := range []bool{false, true} {
		if (!html && !s.opts.FetchReadme) || (html && !s.opts.FetchReadmeHTML) {
			continue
		}
		readme, err := s.client.Readme(ctx, repo, html)
		if err != nil {
			return fmt.Errorf("failed to fetch README: %w", err)
		}
		if readme == "" {
			continue
		}
		if err := s.normalizer.SaveReadme(ctx, repoID, readme, html); err != nil {
			return err
		}
	}
	return nil
}

// saveRepoListing stores every repository of a listing, with READMEs when
// configured.
func (s *Syncer) saveRepoListing(ctx context.Context, w *github.Walk) (int, []error, error) {
	type saved struct {
		id       int64
		fullName string
	}
	var repos []saved
	seq := tap(w.Records(ctx), func(r model.Record) {
		if id, ok := r.Int("id"); ok {
			repos = append(repos, saved{id: id, fullName: r.String("full_name")})
		}
	})
	n, err := s.normalizer.SaveRepos(ctx, seq)
	if err != nil {
		return n, w.Diagnostics(), err
	}
	for i, r := range repos {
		if i > 0 && (s.opts.FetchReadme || s.opts.FetchReadmeHTML) && !sleep(ctx, s.opts.Cooldown) {
			return n, w.Diagnostics(), ctx.Err()
		}
		if err := s.saveReadme(ctx, r.fullName, r.id); err != nil {
			return n, w.Diagnostics(), err
		}
	}
	return n, w.Diagnostics(), nil
}

func (s *Syncer) syncStarred(ctx context.Context) (int, []error, error) {
	user, err := s.client.User(ctx, s.opts.StarredUser)
	if err != nil {
		return 0, nil, err
	}
	w := s.client.Starred(s.opts.StarredUser)
	n, err := s.normalizer.SaveStars(ctx, user, w.Records(ctx))
	return n, w.Diagnostics(), err
}

// syncSearch stores the pull requests matched by query, fetching each
// result's repository once.
func (s *Syncer) syncSearch(ctx context.Context, query string) (int, []error, error) {
	w := s.client.SearchIssues(query)
	repoIDs := map[string]int64{}
	saved := 0
	for item, err := range w.Records(ctx) {
		if err != nil {
			return saved, w.Diagnostics(), err
		}
		repoURL := item.String("repository_url")
		repoID, ok := repoIDs[repoURL]
		if !ok {
			repo, err := s.client.RepoByURL(ctx, repoURL)
			if err != nil {
				return saved, w.Diagnostics(), err
			}
			if repoID, err = s.normalizer.SaveRepo(ctx, repo); err != nil {
				return saved, w.Diagnostics(), err
			}
			repoIDs[repoURL] = repoID
		}
		n, err := s.normalizer.SavePullRequests(ctx, model.Seq(item), repoID)
		if err != nil {
			return saved, w.Diagnostics(), err
		}
		saved += n
	}
	return saved, w.Diagnostics(), nil
}

func (s *Syncer) syncEmojis(ctx context.Context) (int, []error, error) {
	emojis, err := s.client.Emojis(ctx)
	if err != nil {
		return 0, nil, err
	}
	if s.opts.FetchEmojiImages {
		for _, e := range emojis {
			image, err := s.client.Image(ctx, e.String("url"))
			if err != nil {
				return 0, nil, fmt.Errorf("failed to fetch emoji %s: %w", e.String("name"), err)
			}
			e["image"] = image
		}
	}
	n, err := s.normalizer.SaveEmojis(ctx, model.Seq(emojis...))
	return n, nil, err
}

// syncWorkflows decomposes every workflow file of repo. Files that do not
// parse are reported as diagnostics.
func (s *Syncer) syncWorkflows(ctx context.Context, repo string, repoID int64) (int, []error, error) {
	files, err := s.client.Workflows(ctx, repo)
	if err != nil {
		return 0, nil, err
	}
	var diagnostics []error
	saved := 0
	for _, f := range files {
		if _, err := s.workflows.Save(ctx, repoID, f.Name, f.Content); err != nil {
			var invalid *custom_errors.ErrInvalidWorkflow
			if errors.As(err, &invalid) {
				diagnostics = append(diagnostics, err)
				continue
			}
			return saved, diagnostics, err
		}
		saved++
	}
	return saved, diagnostics, nil
}

// syncDependents records the dependents of repo. Repositories already
// stored are not fetched again.
func (s *Syncer) syncDependents(ctx context.Context, repo string, repoID int64) (int, []error, error) {
	names, err := s.dependents.Dependents(ctx, repo)
	if err != nil {
		return 0, nil, err
	}
	added := 0
	for _, name := range names {
		dependentID, err := s.repoID(ctx, name)
		if err != nil {
			return added, nil, err
		}
		inserted, err := s.normalizer.SaveDependent(ctx, repoID, dependentID, s.now())
		if err != nil {
			return added, nil, err
		}
		if inserted {
			added++
		}
	}
	return added, nil, nil
}

func (s *Syncer) repoID(ctx context.Context, fullName string) (int64, error) {
	rows, err := s.store.Find(ctx, model.Repos.Name, map[string]any{"full_name": fullName})
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		if id, ok := rows[0].Int("id"); ok {
			return id, nil
		}
	}
	repo, err := s.client.Repo(ctx, fullName)
	if err != nil {
		return 0, err
	}
	return s.normalizer.SaveRepo(ctx, repo)
}

// tap calls fn with every record of seq before passing it on.
func tap(seq iter.Seq2[model.Record, error], fn func(model.Record)) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		for rec, err := range seq {
			if err == nil {
				fn(rec)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		parts := strings.Split(r, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &custom_errors.ErrInvalidRepoFormat{Repo: r}
		}
		identifiers = append(identifiers, RepoIdentifier{Owner: parts[0], Name: parts[1]})
	}
	return identifiers, nil
}
