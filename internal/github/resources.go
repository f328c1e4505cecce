// internal/github/resources.go
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github-ingest/internal/model"
)

// Media types of the preview APIs the records rely on.
const (
	mediaTypeTopics    = "application/vnd.github.mercy-preview+json"
	mediaTypeStarred   = "application/vnd.github.v3.star+json"
	mediaTypeReactions = "application/vnd.github.squirrel-girl-preview"
	mediaTypeV3        = "application/vnd.github.v3+json"
	mediaTypeHTML      = "application/vnd.github.VERSION.html"
)

// Repo fetches one repository, including its topics.
func (c *Client) Repo(ctx context.Context, fullName string) (model.Record, error) {
	return c.getRecord(ctx, "repos/"+fullName, mediaTypeTopics)
}

// RepoByURL fetches a repository from its API URL.
func (c *Client) RepoByURL(ctx context.Context, repoURL string) (model.Record, error) {
	return c.getRecord(ctx, repoURL, mediaTypeTopics)
}

// User fetches login, or the authenticated user when login is empty.
func (c *Client) User(ctx context.Context, login string) (model.Record, error) {
	if login == "" {
		return c.getRecord(ctx, "user", "")
	}
	return c.getRecord(ctx, "users/"+login, "")
}

// Issues lists every issue of repo, open and closed. Pull requests are
// included, as the API returns them.
func (c *Client) Issues(repo string) *Walk {
	return c.Paginate("repos/"+repo+"/issues?state=all&filter=all", WithAccept(mediaTypeV3))
}

func (c *Client) Issue(ctx context.Context, repo string, number int) (model.Record, error) {
	return c.getRecord(ctx, fmt.Sprintf("repos/%s/issues/%d", repo, number), mediaTypeV3)
}

// PullRequests lists the pull requests of repo in state (open, closed, all).
func (c *Client) PullRequests(repo, state string) *Walk {
	if state == "" {
		state = "all"
	}
	return c.Paginate("repos/"+repo+"/pulls?state="+url.QueryEscape(state), WithAccept(mediaTypeV3))
}

func (c *Client) PullRequest(ctx context.Context, repo string, number int) (model.Record, error) {
	return c.getRecord(ctx, fmt.Sprintf("repos/%s/pulls/%d", repo, number), mediaTypeV3)
}

// SearchIssues walks the results of an issue search query.
func (c *Client) SearchIssues(query string) *Walk {
	return c.Paginate("search/issues?" + url.Values{"q": {query}}.Encode())
}

// IssueComments lists the comments of every issue in repo, or of a single
// issue when issue is positive.
func (c *Client) IssueComments(repo string, issue int) *Walk {
	path := "repos/" + repo + "/issues/comments"
	if issue > 0 {
		path = fmt.Sprintf("repos/%s/issues/%d/comments", repo, issue)
	}
	return c.Paginate(path, WithAccept(mediaTypeReactions))
}

func (c *Client) Releases(repo string) *Walk {
	return c.Paginate("repos/" + repo + "/releases")
}

func (c *Client) Tags(repo string) *Walk {
	return c.Paginate("repos/" + repo + "/tags")
}

func (c *Client) Contributors(repo string) *Walk {
	return c.Paginate("repos/" + repo + "/contributors")
}

// Commits lists the commits of repo, newest first. An empty repository is
// an empty listing.
func (c *Client) Commits(repo string, opts ...PageOption) *Walk {
	return c.Paginate("repos/"+repo+"/commits", append([]PageOption{WithSwallowEmptyRepository()}, opts...)...)
}

// Starred lists the repositories starred by login, or by the authenticated
// user when login is empty, with the time each star was given.
func (c *Client) Starred(login string) *Walk {
	path := "user/starred"
	if login != "" {
		path = "users/" + login + "/starred"
	}
	return c.Paginate(path, WithAccept(mediaTypeStarred))
}

// Stargazers lists the users who starred repo, with starred_at.
func (c *Client) Stargazers(repo string) *Walk {
	return c.Paginate("repos/"+repo+"/stargazers", WithAccept(mediaTypeStarred))
}

// UserRepos lists the repositories of login, or of the authenticated user
// when login is empty.
func (c *Client) UserRepos(login string) *Walk {
	path := "user/repos"
	if login != "" {
		path = "users/" + login + "/repos"
	}
	return c.Paginate(path, WithAccept(mediaTypeTopics))
}

func (c *Client) OrgRepos(org string) *Walk {
	return c.Paginate("orgs/"+org+"/repos", WithAccept(mediaTypeTopics))
}

// Readme returns the README of repo as text, or rendered to HTML. A
// repository without a README yields "" and no error.
func (c *Client) Readme(ctx context.Context, repo string, html bool) (string, error) {
	accept := ""
	if html {
		accept = mediaTypeHTML
	}
	p, err := c.get(ctx, "repos/"+repo+"/readme", accept)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if html {
		return RewriteReadmeHTML(string(p.body)), nil
	}

	rec, err := model.DecodeRecord(p.body)
	if err != nil {
		return "", fmt.Errorf("failed to decode README of %s: %w", repo, err)
	}
	content, err := base64.StdEncoding.DecodeString(rec.String("content"))
	if err != nil {
		return "", fmt.Errorf("failed to decode README of %s: %w", repo, err)
	}
	return string(content), nil
}

// WorkflowFile is one file of .github/workflows.
type WorkflowFile struct {
	Name    string
	Content string
}

// Workflows downloads every file in the repository's .github/workflows
// directory. A repository without the directory has no workflows.
func (c *Client) Workflows(ctx context.Context, repo string) ([]WorkflowFile, error) {
	p, err := c.get(ctx, "repos/"+repo+"/contents/.github/workflows", "")
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	data, err := model.Decode(p.body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow listing of %s: %w", repo, err)
	}
	items, _ := data.([]any)

	var files []WorkflowFile
	for _, item := range records(items) {
		download := item.String("download_url")
		if download == "" {
			continue
		}
		content, err := c.get(ctx, download, "")
		if err != nil {
			return nil, fmt.Errorf("failed to download workflow %s: %w", item.String("name"), err)
		}
		files = append(files, WorkflowFile{Name: item.String("name"), Content: string(content.body)})
	}
	return files, nil
}

// Emojis returns the emoji names and image URLs known to GitHub.
func (c *Client) Emojis(ctx context.Context) ([]model.Record, error) {
	rec, err := c.getRecord(ctx, "emojis", "")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.Record, 0, len(names))
	for _, name := range names {
		out = append(out, model.Record{"name": name, "url": rec[name]})
	}
	return out, nil
}

// Image downloads the bytes at imageURL.
func (c *Client) Image(ctx context.Context, imageURL string) ([]byte, error) {
	p, err := c.get(ctx, imageURL, "")
	if err != nil {
		return nil, err
	}
	return p.body, nil
}

var (
	readmeHrefRe = regexp.MustCompile(`\shref="#([^"]+)"`)
	readmeIDRe   = regexp.MustCompile(`\sid="([^"]+)"`)
)

// RewriteReadmeHTML points in-page anchors at the user-content- ids GitHub
// gives headings in rendered READMEs.
func RewriteReadmeHTML(html string) string {
	ids := map[string]bool{}
	for _, m := range readmeIDRe.FindAllStringSubmatch(html, -1) {
		ids[m[1]] = true
	}
	seen := map[string]bool{}
	for _, m := range readmeHrefRe.FindAllStringSubmatch(html, -1) {
		href := m[1]
		if seen[href] {
			continue
		}
		seen[href] = true
		if strings.HasPrefix(href, "user-content-") || !ids["user-content-"+href] {
			continue
		}
		html = strings.ReplaceAll(html, ` href="#`+href+`"`, ` href="#user-content-`+href+`"`)
	}
	return html
}
