// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

type MockReader struct {
	mock.Mock
}

func (m *MockReader) Find(ctx context.Context, table string, where map[string]any) ([]model.Record, error) {
	args := m.Called(ctx, table, where)
	rows, _ := args.Get(0).([]model.Record)
	return rows, args.Error(1)
}

func (m *MockReader) List(ctx context.Context, q database.ListQuery) ([]model.Record, error) {
	args := m.Called(ctx, q)
	rows, _ := args.Get(0).([]model.Record)
	return rows, args.Error(1)
}

func (m *MockReader) Search(ctx context.Context, table, query string, limit uint64) ([]model.Record, error) {
	args := m.Called(ctx, table, query, limit)
	rows, _ := args.Get(0).([]model.Record)
	return rows, args.Error(1)
}

func (m *MockReader) ListRuns(ctx context.Context, limit uint64) ([]database.Run, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]database.Run)
	return runs, args.Error(1)
}

func newTestServer(t *testing.T, reader Reader) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(reader, logger))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var demo = model.Record{"id": int64(7), "full_name": "octo/demo"}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, new(MockReader))

	var body map[string]string
	assert.Equal(t, http.StatusOK, get(t, srv, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetRepo(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Find", mock.Anything, "repos", map[string]any{"full_name": "octo/demo"}).
			Return([]model.Record{demo}, nil)
		srv := newTestServer(t, reader)

		var body map[string]any
		assert.Equal(t, http.StatusOK, get(t, srv, "/v1/repos/octo/demo", &body))
		assert.Equal(t, "octo/demo", body["full_name"])
		reader.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Find", mock.Anything, "repos", mock.Anything).Return(nil, nil)
		srv := newTestServer(t, reader)

		var body map[string]string
		assert.Equal(t, http.StatusNotFound, get(t, srv, "/v1/repos/octo/missing", &body))
		assert.Equal(t, "Repository not found", body["error"])
	})

	t.Run("store failure", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Find", mock.Anything, "repos", mock.Anything).Return(nil, errors.New("connection refused"))
		srv := newTestServer(t, reader)

		assert.Equal(t, http.StatusInternalServerError, get(t, srv, "/v1/repos/octo/demo", nil))
	})
}

func TestGetCommits(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Find", mock.Anything, "repos", mock.Anything).Return([]model.Record{demo}, nil)
		reader.On("List", mock.Anything, database.ListQuery{
			Table:   "commits",
			Where:   map[string]any{"repo": int64(7)},
			OrderBy: "committer_date DESC NULLS LAST",
			Limit:   defaultLimit,
		}).Return([]model.Record{{"sha": "abc"}, {"sha": "def"}}, nil)
		srv := newTestServer(t, reader)

		var body []map[string]any
		assert.Equal(t, http.StatusOK, get(t, srv, "/v1/repos/octo/demo/commits", &body))
		require.Len(t, body, 2)
		assert.Equal(t, "abc", body[0]["sha"])
		reader.AssertExpectations(t)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Find", mock.Anything, "repos", mock.Anything).Return([]model.Record{demo}, nil)
		reader.On("List", mock.Anything, mock.MatchedBy(func(q database.ListQuery) bool { return q.Limit == 5 })).
			Return(nil, nil)
		srv := newTestServer(t, reader)

		var body []map[string]any
		assert.Equal(t, http.StatusOK, get(t, srv, "/v1/repos/octo/demo/commits?limit=5", &body))
		assert.NotNil(t, body)
		assert.Empty(t, body)
	})

	for _, limit := range []string{"0", "101", "abc", "-3"} {
		t.Run("invalid limit "+limit, func(t *testing.T) {
			reader := new(MockReader)
			srv := newTestServer(t, reader)

			assert.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/repos/octo/demo/commits?limit="+limit, nil))
			reader.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSearch(t *testing.T) {
	t.Run("hits", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Search", mock.Anything, "issues", "crash", uint64(3)).
			Return([]model.Record{{"id": int64(1), "title": "Crash on start"}}, nil)
		srv := newTestServer(t, reader)

		var body []map[string]any
		assert.Equal(t, http.StatusOK, get(t, srv, "/v1/search/issues?q=crash&limit=3", &body))
		require.Len(t, body, 1)
		assert.Equal(t, "Crash on start", body[0]["title"])
	})

	t.Run("missing query", func(t *testing.T) {
		srv := newTestServer(t, new(MockReader))
		assert.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/search/issues", nil))
	})

	t.Run("not searchable", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("Search", mock.Anything, "labels", "x", uint64(defaultLimit)).
			Return(nil, custom_errors.ErrNotSearchable)
		srv := newTestServer(t, reader)

		assert.Equal(t, http.StatusNotFound, get(t, srv, "/v1/search/labels?q=x", nil))
	})
}

func TestGetView(t *testing.T) {
	t.Run("known view", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("List", mock.Anything, database.ListQuery{Table: "recent_releases", Limit: 2}).
			Return([]model.Record{{"repo": "octo/demo"}}, nil)
		srv := newTestServer(t, reader)

		var body []map[string]any
		assert.Equal(t, http.StatusOK, get(t, srv, "/v1/views/recent_releases?limit=2", &body))
		assert.Len(t, body, 1)
		reader.AssertExpectations(t)
	})

	t.Run("unknown view", func(t *testing.T) {
		srv := newTestServer(t, new(MockReader))
		assert.Equal(t, http.StatusNotFound, get(t, srv, "/v1/views/users", nil))
	})
}

func TestGetRuns(t *testing.T) {
	reader := new(MockReader)
	reader.On("ListRuns", mock.Anything, uint64(defaultLimit)).Return([]database.Run{
		{ID: 2, Command: "commits", Target: "octo/demo", Items: 4},
	}, nil)
	srv := newTestServer(t, reader)

	var body []map[string]any
	assert.Equal(t, http.StatusOK, get(t, srv, "/v1/runs", &body))
	require.Len(t, body, 1)
	assert.Equal(t, "commits", body[0]["command"])
}
