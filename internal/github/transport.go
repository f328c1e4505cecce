// internal/github/transport.go
package github

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries     = 5
	DefaultRetryBaseDelay = 100 * time.Millisecond
)

// RetryTransport retries requests answered with 500, 502, 503 or 504 using
// exponential backoff. Every other status, including 4xx and rate limits,
// is returned as is. When the retries run out the last 5xx response is
// returned to the caller.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
}

type retryableStatus struct {
	code int
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.code)
}

func isRetryable(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// The body cannot be replayed.
		return base.RoundTrip(req)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.MaxRetries)), req.Context())

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		if resp != nil {
			drain(resp)
			resp = nil
		}
		r := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		attempt++

		res, err := base.RoundTrip(r)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp = res
		if isRetryable(res.StatusCode) {
			return &retryableStatus{code: res.StatusCode}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if t.Logger != nil {
			t.Logger.Debug("Retrying GitHub request", "url", req.URL.String(), "attempt", attempt, "reason", err, "wait", wait)
		}
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return resp, nil
	}
	var status *retryableStatus
	if errors.As(err, &status) && resp != nil {
		return resp, nil
	}
	if resp != nil {
		drain(resp)
	}
	return nil, err
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
