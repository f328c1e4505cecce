// internal/normalize/issues.go
package normalize

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github-ingest/internal/model"
)

// SaveIssues stores the issues of repoID. Pull requests returned by the
// issues listing are stored as issues of type "pull".
func (n *Normalizer) SaveIssues(ctx context.Context, issues iter.Seq2[model.Record, error], repoID int64) (int, error) {
	return n.each(ctx, "issue", issues, func(issue model.Record) error {
		return n.saveIssue(ctx, issue, repoID)
	})
}

func (n *Normalizer) saveIssue(ctx context.Context, issue model.Record, repoID int64) error {
	id, ok := issue.Int("id")
	if !ok {
		return malformed("issue", "missing id")
	}
	row := issue.WithoutURLs()
	row["repo"] = repoID

	row["type"] = "issue"
	if pr := issue.Object("pull_request"); pr != nil {
		row["pull_request"] = repoRelativePath(pr.String("url"))
		row["type"] = "pull"
	}

	if err := n.resolveParticipants(ctx, issue, row, repoID); err != nil {
		return err
	}
	labels := issue.Objects("labels")
	delete(row, "labels")

	if err := n.store.Replace(ctx, model.Issues, row); err != nil {
		return err
	}
	return n.saveLabels(ctx, labels, model.IssueLabels, "issues_id", id)
}

// SavePullRequests stores pull requests of repoID, either from the pulls
// listing or from issue search results.
func (n *Normalizer) SavePullRequests(ctx context.Context, pulls iter.Seq2[model.Record, error], repoID int64) (int, error) {
	return n.each(ctx, "pull request", pulls, func(pr model.Record) error {
		return n.savePullRequest(ctx, pr, repoID)
	})
}

func (n *Normalizer) savePullRequest(ctx context.Context, pr model.Record, repoID int64) error {
	id, ok := pr.Int("id")
	if !ok {
		return malformed("pull request", "missing id")
	}
	row := pr.WithoutURLs()
	row["repo"] = repoID

	if links := pr.Object("_links"); links != nil {
		row["url"] = links.Object("html")["href"]
		delete(row, "_links")
	} else if nested := pr.Object("pull_request"); nested != nil {
		row["url"] = nested["html_url"]
	} else {
		return malformed("pull request", "no html link")
	}

	if err := n.resolveParticipants(ctx, pr, row, repoID); err != nil {
		return err
	}
	if merger := pr.Object("merged_by"); merger != nil {
		mergedBy, err := n.SaveUser(ctx, merger)
		if err != nil {
			return err
		}
		row["merged_by"] = ref(mergedBy)
	}
	if head := pr.Object("head"); head != nil {
		row["head"] = head["sha"]
		row["base"] = pr.Object("base")["sha"]
	}

	labels := pr.Objects("labels")
	delete(row, "labels")
	delete(row, "active_lock_reason")
	delete(row, "requested_reviewers")
	delete(row, "requested_teams")

	if err := n.store.Replace(ctx, model.PullRequests, row); err != nil {
		return err
	}
	return n.saveLabels(ctx, labels, model.PullRequestLabels, "pull_requests_id", id)
}

// resolveParticipants replaces the user, assignee and milestone objects
// shared by issues and pull requests with their ids.
func (n *Normalizer) resolveParticipants(ctx context.Context, src, row model.Record, repoID int64) error {
	user, err := n.SaveUser(ctx, src.Object("user"))
	if err != nil {
		return err
	}
	row["user"] = ref(user)

	if m := src.Object("milestone"); m != nil {
		milestone, err := n.SaveMilestone(ctx, m, repoID)
		if err != nil {
			return err
		}
		row["milestone"] = milestone
	} else {
		row["milestone"] = nil
	}

	// Only the singular assignee is kept as a relation.
	delete(row, "assignees")
	assignee, err := n.SaveUser(ctx, src.Object("assignee"))
	if err != nil {
		return err
	}
	row["assignee"] = ref(assignee)
	return nil
}

func (n *Normalizer) saveLabels(ctx context.Context, labels []model.Record, link model.Table, parentColumn string, parentID int64) error {
	for _, label := range labels {
		labelID, ok := label.Int("id")
		if !ok {
			return malformed("label", "missing id")
		}
		if err := n.store.Upsert(ctx, model.Labels, label.Clone()); err != nil {
			return err
		}
		if _, err := n.store.InsertIgnore(ctx, link, model.Record{
			parentColumn: parentID,
			"labels_id":  labelID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SaveIssueComment stores a comment. Its issue is resolved from issue_url
// against issues already stored and left null otherwise.
func (n *Normalizer) SaveIssueComment(ctx context.Context, comment model.Record) (int64, error) {
	id, ok := comment.Int("id")
	if !ok {
		return 0, malformed("issue comment", "missing id")
	}
	row := comment.Clone()
	user, err := n.SaveUser(ctx, comment.Object("user"))
	if err != nil {
		return 0, err
	}
	row["user"] = ref(user)

	issueID, err := n.lookupIssue(ctx, comment.String("issue_url"))
	if err != nil {
		return 0, err
	}
	row["issue"] = ref(issueID)

	delete(row, "url")
	if reactions := comment.Object("reactions"); reactions != nil {
		r := reactions.Clone()
		delete(r, "url")
		row["reactions"] = r
	}

	if err := n.store.Replace(ctx, model.IssueComments, row); err != nil {
		return 0, err
	}
	return id, nil
}

// SaveIssueComments stores every comment of comments.
func (n *Normalizer) SaveIssueComments(ctx context.Context, comments iter.Seq2[model.Record, error]) (int, error) {
	return n.each(ctx, "issue comment", comments, func(c model.Record) error {
		_, err := n.SaveIssueComment(ctx, c)
		return err
	})
}

// lookupIssue finds the stored issue addressed by an issue URL of the form
// .../repos/{owner}/{repo}/issues/{number}.
func (n *Normalizer) lookupIssue(ctx context.Context, issueURL string) (*int64, error) {
	bits := strings.Split(issueURL, "/")
	if len(bits) < 4 {
		return nil, nil
	}
	fullName := bits[len(bits)-4] + "/" + bits[len(bits)-3]
	number, err := strconv.ParseInt(bits[len(bits)-1], 10, 64)
	if err != nil {
		return nil, nil
	}

	repos, err := n.store.Find(ctx, model.Repos.Name, map[string]any{"full_name": fullName})
	if err != nil || len(repos) == 0 {
		return nil, err
	}
	repoIDs := make([]any, 0, len(repos))
	for _, r := range repos {
		repoIDs = append(repoIDs, r["id"])
	}
	issues, err := n.store.Find(ctx, model.Issues.Name, map[string]any{"number": number, "repo": repoIDs})
	if err != nil || len(issues) != 1 {
		return nil, err
	}
	id, ok := issues[0].Int("id")
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// repoRelativePath trims an API URL to the part after /repos/, e.g.
// "octo/demo/pulls/3".
func repoRelativePath(apiURL string) string {
	if i := strings.Index(apiURL, "/repos/"); i >= 0 {
		return apiURL[i+len("/repos/"):]
	}
	return apiURL
}
