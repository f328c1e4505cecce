// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
	"github-ingest/internal/schema"
)

const (
	defaultLimit = 30
	maxLimit     = 100
)

// Reader is the read side of the store used by the API.
type Reader interface {
	Find(ctx context.Context, table string, where map[string]any) ([]model.Record, error)
	List(ctx context.Context, q database.ListQuery) ([]model.Record, error)
	Search(ctx context.Context, table, query string, limit uint64) ([]model.Record, error)
	ListRuns(ctx context.Context, limit uint64) ([]database.Run, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Reader
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Reader, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/{owner}/{name}", h.getRepo)
		r.Get("/repos/{owner}/{name}/commits", h.getCommits)
		r.Get("/search/{table}", h.search)
		r.Get("/views/{view}", h.getView)
		r.Get("/runs", h.getRuns)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getRepo returns one stored repository.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// getCommits handles the request to retrieve commits for a repository.
// GET /v1/repos/{owner}/{name}/commits?limit=N
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	repo, ok := h.lookupRepo(w, r)
	if !ok {
		return
	}

	commits, err := h.db.List(r.Context(), database.ListQuery{
		Table:   model.Commits.Name,
		Where:   map[string]any{"repo": repo["id"]},
		OrderBy: "committer_date DESC NULLS LAST",
		Limit:   limit,
	})
	if err != nil {
		h.logger.Error("Failed to get commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, orEmpty(commits))
}

// search runs a full-text query against one table.
// GET /v1/search/{table}?q=...&limit=N
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'q' parameter.")
		return
	}
	table := chi.URLParam(r, "table")

	rows, err := h.db.Search(r.Context(), table, query, limit)
	if err != nil {
		if errors.Is(err, custom_errors.ErrNotSearchable) {
			respondWithError(w, http.StatusNotFound, "Table is not searchable")
			return
		}
		h.logger.Error("Failed to search", "table", table, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, orEmpty(rows))
}

// getView returns the rows of a derived view.
// GET /v1/views/{view}?limit=N
func (h *Handler) getView(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	view, found := schema.LookupView(chi.URLParam(r, "view"))
	if !found {
		respondWithError(w, http.StatusNotFound, "View not found")
		return
	}

	rows, err := h.db.List(r.Context(), database.ListQuery{Table: view.Name, Limit: limit})
	if err != nil {
		h.logger.Error("Failed to read view", "view", view.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, orEmpty(rows))
}

// getRuns lists the most recent ingestion runs.
// GET /v1/runs?limit=N
func (h *Handler) getRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (h *Handler) lookupRepo(w http.ResponseWriter, r *http.Request) (model.Record, bool) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	repos, err := h.db.Find(r.Context(), model.Repos.Name, map[string]any{"full_name": fullName})
	if err != nil {
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if len(repos) == 0 {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return nil, false
	}
	return repos[0], true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > maxLimit {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return 0, false
	}
	return uint64(limit), true
}

func orEmpty(rows []model.Record) []model.Record {
	if rows == nil {
		return []model.Record{}
	}
	return rows
}
