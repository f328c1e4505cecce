// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/github"
	"github-ingest/internal/syncer"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DBURL           string        `mapstructure:"DB_URL"`
	GithubToken     string        `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL    string        `mapstructure:"GITHUB_API_URL"`
	ReposToSync     []string      `mapstructure:"REPOS_TO_SYNC"`
	UsersToSync     []string      `mapstructure:"USERS_TO_SYNC"`
	OrgsToSync      []string      `mapstructure:"ORGS_TO_SYNC"`
	Resources       []string      `mapstructure:"RESOURCES"`
	SyncStarred     bool          `mapstructure:"SYNC_STARRED"`
	StarredUser     string        `mapstructure:"STARRED_USER"`
	SearchQueries   []string      `mapstructure:"SEARCH_QUERIES"`
	PullState       string        `mapstructure:"PULL_STATE"`
	IssueNumbers    []int         `mapstructure:"ISSUE_NUMBERS"`
	PullNumbers     []int         `mapstructure:"PULL_NUMBERS"`
	FetchAll        bool          `mapstructure:"FETCH_ALL_COMMITS"`
	FetchReadme     bool          `mapstructure:"FETCH_README"`
	FetchReadmeHTML bool          `mapstructure:"FETCH_README_HTML"`
	FetchEmojis     bool          `mapstructure:"FETCH_EMOJIS"`
	FetchEmojiImgs  bool          `mapstructure:"FETCH_EMOJI_IMAGES"`
	SyncInterval    time.Duration `mapstructure:"SYNC_INTERVAL"`
	Cooldown        time.Duration `mapstructure:"COOLDOWN"`
	RunOnce         bool          `mapstructure:"RUN_ONCE"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	MaxRetries      int           `mapstructure:"MAX_RETRIES"`
	RetryBaseDelay  time.Duration `mapstructure:"RETRY_BASE_DELAY"`
}

var defaults = map[string]any{
	"LOG_LEVEL":          "info",
	"GITHUB_API_URL":     github.DefaultBaseURL,
	"RESOURCES":          "repos,issues,pulls,issue-comments,releases,tags,contributors,commits,stargazers,workflows",
	"PULL_STATE":         "all",
	"SYNC_INTERVAL":      "1h",
	"COOLDOWN":           "1s",
	"HTTP_ADDR":          ":8080",
	"MAX_RETRIES":        github.DefaultMaxRetries,
	"RETRY_BASE_DELAY":   github.DefaultRetryBaseDelay.String(),
	"SYNC_STARRED":       false,
	"FETCH_ALL_COMMITS":  false,
	"FETCH_README":       false,
	"FETCH_README_HTML":  false,
	"FETCH_EMOJIS":       false,
	"FETCH_EMOJI_IMAGES": false,
	"RUN_ONCE":           false,
}

// keys without a default still need binding so Unmarshal sees them.
var unset = []string{
	"DB_URL", "GITHUB_TOKEN", "REPOS_TO_SYNC", "USERS_TO_SYNC", "ORGS_TO_SYNC",
	"STARRED_USER", "SEARCH_QUERIES", "ISSUE_NUMBERS", "PULL_NUMBERS",
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		_ = v.BindEnv(key)
	}
	for _, key := range unset {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ReposToSync = cleanList(cfg.ReposToSync)
	cfg.UsersToSync = cleanList(cfg.UsersToSync)
	cfg.OrgsToSync = cleanList(cfg.OrgsToSync)
	cfg.Resources = cleanList(cfg.Resources)
	cfg.SearchQueries = cleanList(cfg.SearchQueries)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required fields and the format of the sync targets.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if len(c.ReposToSync) == 0 && len(c.UsersToSync) == 0 && len(c.OrgsToSync) == 0 &&
		!c.SyncStarred && len(c.SearchQueries) == 0 && !c.FetchEmojis {
		return errors.New("nothing to sync: set REPOS_TO_SYNC, USERS_TO_SYNC, ORGS_TO_SYNC, SEARCH_QUERIES, SYNC_STARRED or FETCH_EMOJIS")
	}
	for _, r := range c.ReposToSync {
		owner, name, ok := strings.Cut(r, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return &custom_errors.ErrInvalidRepoFormat{Repo: r}
		}
	}
	for _, r := range c.Resources {
		if !slices.Contains(syncer.KnownResources, r) {
			return &custom_errors.ErrUnknownResource{Resource: r}
		}
	}
	if (len(c.IssueNumbers) > 0 || len(c.PullNumbers) > 0) && len(c.ReposToSync) != 1 {
		return errors.New("ISSUE_NUMBERS and PULL_NUMBERS need exactly one repository in REPOS_TO_SYNC")
	}
	if c.SyncInterval <= 0 && !c.RunOnce {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	return nil
}

// SyncOptions returns the syncer options described by c.
func (c *Config) SyncOptions() syncer.Options {
	return syncer.Options{
		Repos:            c.ReposToSync,
		Users:            c.UsersToSync,
		Orgs:             c.OrgsToSync,
		Resources:        c.Resources,
		SyncStarred:      c.SyncStarred,
		StarredUser:      c.StarredUser,
		SearchQueries:    c.SearchQueries,
		PullState:        c.PullState,
		IssueNumbers:     c.IssueNumbers,
		PullNumbers:      c.PullNumbers,
		FetchAllCommits:  c.FetchAll,
		FetchReadme:      c.FetchReadme,
		FetchReadmeHTML:  c.FetchReadmeHTML,
		FetchEmojis:      c.FetchEmojis,
		FetchEmojiImages: c.FetchEmojiImgs,
		Interval:         c.SyncInterval,
		Cooldown:         c.Cooldown,
		RunOnce:          c.RunOnce,
	}
}

// GithubConfig returns the client configuration described by c.
func (c *Config) GithubConfig() github.Config {
	return github.Config{
		BaseURL:        c.GithubAPIURL,
		Token:          c.GithubToken,
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: c.RetryBaseDelay,
	}
}

// cleanList trims the entries of a comma-separated list and drops empty ones.
func cleanList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
