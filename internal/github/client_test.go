// internal/github/client_test.go
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a httptest server and a client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient(Config{
		BaseURL:        server.URL,
		RetryBaseDelay: time.Millisecond,
		Logger:         logger,
	})
	require.NoError(t, err)
	return client, server
}

func TestClient_Repo_Retry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "/repos/test/repo", r.URL.Path)
			assert.Equal(t, mediaTypeTopics, r.Header.Get("Accept"))
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}, "topics": ["go"]}`)
		})
		client, _ := setupTestClient(t, handler)

		repo, err := client.Repo(context.Background(), "test/repo")

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		assert.Equal(t, "repo", repo["name"])
		assert.Equal(t, int64(1), repo["id"])
		assert.Equal(t, []any{"go"}, repo["topics"])
	})

	t.Run("retries on 503 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			w.WriteHeader(http.StatusOK) // Succeed second time
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Repo(context.Background(), "test/repo")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("does not retry rate limit responses", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Repo(context.Background(), "test/repo")

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "API rate limit exceeded", apiErr.Message)
		assert.Equal(t, "0", apiErr.Header.Get("X-RateLimit-Remaining"))
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Repo(context.Background(), "test/repo")

		require.Error(t, err)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, int32(DefaultMaxRetries+1), atomic.LoadInt32(&requestCount))
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.Repo(context.Background(), "test/missing")

		assert.True(t, IsNotFound(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})
}

func TestNewClient_Token(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		fmt.Fprintln(w, `{"login": "octo"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/api/v3", Token: "secret"})
	require.NoError(t, err)

	user, err := client.User(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "octo", user["login"])
	assert.Equal(t, "Bearer secret", auth.Load())
}

func TestRetryTransport_ClosesDiscardedResponses(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	rt := &RetryTransport{MaxRetries: 2, BaseDelay: time.Millisecond}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
}

func TestClient_Readme(t *testing.T) {
	html := `<h1 id="user-content-usage">Usage</h1><a href="#usage">Usage</a> <a href="#other">x</a>`
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/octo/none/readme":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		case r.Header.Get("Accept") == mediaTypeHTML:
			fmt.Fprint(w, html)
		default:
			fmt.Fprintf(w, `{"content": %q}`, base64.StdEncoding.EncodeToString([]byte("# Hello\n")))
		}
	})
	client, _ := setupTestClient(t, handler)
	ctx := context.Background()

	text, err := client.Readme(ctx, "octo/demo", false)
	require.NoError(t, err)
	assert.Equal(t, "# Hello\n", text)

	rendered, err := client.Readme(ctx, "octo/demo", true)
	require.NoError(t, err)
	assert.Contains(t, rendered, `href="#user-content-usage"`)
	assert.Contains(t, rendered, `href="#other"`)

	missing, err := client.Readme(ctx, "octo/none", false)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestClient_Workflows(t *testing.T) {
	var serverURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/demo/contents/.github/workflows":
			fmt.Fprintf(w, `[{"name": "ci.yml", "download_url": "%s/raw/ci.yml"}]`, serverURL)
		case "/raw/ci.yml":
			fmt.Fprint(w, "name: CI\njobs: {}\n")
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		}
	})
	client, server := setupTestClient(t, handler)
	serverURL = server.URL
	ctx := context.Background()

	files, err := client.Workflows(ctx, "octo/demo")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ci.yml", files[0].Name)
	assert.True(t, strings.HasPrefix(files[0].Content, "name: CI"))

	files, err = client.Workflows(ctx, "octo/none")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestClient_Emojis(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"+1": "https://example.com/plus1.png", "-1": "https://example.com/minus1.png"}`)
	})
	client, _ := setupTestClient(t, handler)

	emojis, err := client.Emojis(context.Background())
	require.NoError(t, err)
	require.Len(t, emojis, 2)
	assert.Equal(t, "+1", emojis[0]["name"])
	assert.Equal(t, "https://example.com/minus1.png", emojis[1]["url"])
}

func TestRewriteReadmeHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "rewrites anchors with a user-content target",
			in:   `<a href="#install">i</a><h2 id="user-content-install">`,
			want: `<a href="#user-content-install">i</a><h2 id="user-content-install">`,
		},
		{
			name: "leaves anchors without a target",
			in:   `<a href="#nowhere">i</a>`,
			want: `<a href="#nowhere">i</a>`,
		},
		{
			name: "leaves anchors that are already prefixed",
			in:   `<a href="#user-content-x">i</a><p id="user-content-user-content-x">`,
			want: `<a href="#user-content-x">i</a><p id="user-content-user-content-x">`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteReadmeHTML(tt.in))
		})
	}
}
