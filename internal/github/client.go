// internal/github/client.go
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-ingest/internal/model"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com/"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root; GitHub Enterprise and tests point it elsewhere.
	BaseURL        string
	Token          string
	MaxRetries     int
	RetryBaseDelay time.Duration
	// Transport is the innermost RoundTripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client is a wrapper around the go-github client that fetches raw JSON
// records instead of typed structs.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// A non-empty token is sent with every request; an empty one makes
// anonymous requests.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	httpClient := &http.Client{Transport: &RetryTransport{
		Base:       cfg.Transport,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		Logger:     cfg.Logger,
	}}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", cfg.BaseURL, err)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}

	gh := github.NewClient(httpClient)
	gh.BaseURL = baseURL

	return &Client{
		gh:     gh,
		logger: cfg.Logger,
	}, nil
}

// page is one raw API response.
type page struct {
	status int
	header http.Header
	body   []byte
}

// get performs a single GET. urlStr is either relative to the base URL or
// absolute. Non-2xx responses come back as *APIError.
func (c *Client) get(ctx context.Context, urlStr, accept string) (*page, error) {
	req, err := c.gh.NewRequest(http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.gh.BareDo(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", urlStr, err)
	}
	return &page{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// getRecord fetches a single JSON object.
func (c *Client) getRecord(ctx context.Context, urlStr, accept string) (model.Record, error) {
	p, err := c.get(ctx, urlStr, accept)
	if err != nil {
		return nil, err
	}
	rec, err := model.DecodeRecord(p.body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", urlStr, err)
	}
	return rec, nil
}
