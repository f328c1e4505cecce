// internal/github/pagination.go
package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github-ingest/internal/model"
)

const perPage = 100

// StopFunc is consulted before each record is yielded. Returning true ends
// the walk without yielding that record.
type StopFunc func(ctx context.Context, rec model.Record) (bool, error)

// PageOption configures a Walk.
type PageOption func(*Walk)

// WithAccept sets the Accept header sent with every page request.
func WithAccept(mediaType string) PageOption {
	return func(w *Walk) { w.accept = mediaType }
}

// WithStop installs a stop predicate.
func WithStop(fn StopFunc) PageOption {
	return func(w *Walk) { w.stop = fn }
}

// WithSwallowEmptyRepository treats "Git Repository is empty" as an empty
// listing instead of a diagnostic.
func WithSwallowEmptyRepository() PageOption {
	return func(w *Walk) { w.swallowEmpty = true }
}

// Walk is a lazy traversal of a paginated listing. It is not safe for
// concurrent use.
type Walk struct {
	client       *Client
	seed         string
	accept       string
	stop         StopFunc
	swallowEmpty bool
	diagnostics  []error
}

// Paginate prepares a walk starting at seed, a path relative to the base URL
// or an absolute URL.
func (c *Client) Paginate(seed string, opts ...PageOption) *Walk {
	w := &Walk{client: c, seed: seed}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Diagnostics returns the non-fatal API errors seen so far.
func (w *Walk) Diagnostics() []error {
	return w.diagnostics
}

// Records yields the records of every page in order. A yielded error is
// fatal and always the last value of the sequence.
func (w *Walk) Records(ctx context.Context) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		next := withPerPage(w.seed)
		for next != "" {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			w.client.logger.Debug("Fetching page", "url", next)
			p, err := w.client.get(ctx, next, w.accept)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
					// No next link can be read from an error response.
					w.diagnose(err)
					return
				}
				yield(nil, err)
				return
			}
			if p.status == http.StatusNoContent {
				return
			}

			records, err := w.split(p)
			if err != nil {
				yield(nil, fmt.Errorf("failed to decode page %s: %w", next, err))
				return
			}
			for _, rec := range records {
				if w.stop != nil {
					stop, err := w.stop(ctx, rec)
					if err != nil {
						yield(nil, err)
						return
					}
					if stop {
						return
					}
				}
				if !yield(rec, nil) {
					return
				}
			}
			next = parseLinkNext(p.header.Get("Link"))
		}
	}
}

// split decodes one page into its records. A 2xx object with a message is a
// diagnostic and contributes no records.
func (w *Walk) split(p *page) ([]model.Record, error) {
	if len(p.body) == 0 {
		return nil, nil
	}
	data, err := model.Decode(p.body)
	if err != nil {
		return nil, err
	}

	switch v := data.(type) {
	case []any:
		return records(v), nil
	case model.Record:
		if msg := v.String("message"); msg != "" {
			w.diagnose(newAPIError(&http.Response{StatusCode: p.status, Header: p.header}, msg))
			return nil, nil
		}
		if items, ok := v["items"].([]any); ok {
			return records(items), nil
		}
		return []model.Record{v}, nil
	}
	return nil, fmt.Errorf("unexpected JSON value %T", data)
}

func (w *Walk) diagnose(err error) {
	if w.swallowEmpty && IsRepositoryEmpty(err) {
		return
	}
	w.client.logger.Warn("GitHub API returned an error", "seed", w.seed, "error", err)
	w.diagnostics = append(w.diagnostics, err)
}

func records(items []any) []model.Record {
	out := make([]model.Record, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(model.Record); ok {
			out = append(out, rec)
		}
	}
	return out
}

func withPerPage(u string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sper_page=%d", u, sep, perPage)
}

// parseLinkNext extracts the URL with rel="next" from an RFC 8288 Link
// header. Returns empty string if no next link is present.
//
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	if header == "" {
		return ""
	}

	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(strings.TrimSpace(part), ";")
		if len(segments) < 2 {
			continue
		}
		urlPart := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(urlPart, "<") || !strings.HasSuffix(urlPart, ">") {
			continue
		}
		for _, param := range segments[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.TrimSpace(key) != "rel" {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
				if rel == "next" {
					return urlPart[1 : len(urlPart)-1]
				}
			}
		}
	}

	return ""
}
