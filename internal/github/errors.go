// internal/github/errors.go
package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v62/github"
)

// APIError is a response GitHub answered with an error message, either as a
// non-2xx status or as a 2xx object carrying a "message" field.
type APIError struct {
	Message    string
	StatusCode int
	Header     http.Header
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

// RepositoryEmptyError is the APIError GitHub returns for listings of a
// repository without any commits.
type RepositoryEmptyError struct {
	*APIError
}

func (e *RepositoryEmptyError) Unwrap() error {
	return e.APIError
}

// IsRepositoryEmpty reports whether err is a RepositoryEmptyError.
func IsRepositoryEmpty(err error) bool {
	var empty *RepositoryEmptyError
	return errors.As(err, &empty)
}

// IsNotFound reports whether err is a GitHub 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func newAPIError(resp *http.Response, message string) error {
	apiErr := &APIError{Message: message}
	if resp != nil {
		apiErr.StatusCode = resp.StatusCode
		apiErr.Header = resp.Header
	}
	if strings.Contains(strings.ToLower(message), "git repository is empty") {
		return &RepositoryEmptyError{APIError: apiErr}
	}
	return apiErr
}

// classify turns the error types of go-github into APIErrors. Transport and
// context errors are returned unchanged.
func classify(err error) error {
	var (
		rateErr     *github.RateLimitError
		abuseErr    *github.AbuseRateLimitError
		acceptedErr *github.AcceptedError
		respErr     *github.ErrorResponse
	)
	switch {
	case errors.As(err, &rateErr):
		return newAPIError(rateErr.Response, rateErr.Message)
	case errors.As(err, &abuseErr):
		return newAPIError(abuseErr.Response, abuseErr.Message)
	case errors.As(err, &acceptedErr):
		return &APIError{Message: "accepted: " + string(acceptedErr.Raw), StatusCode: http.StatusAccepted}
	case errors.As(err, &respErr):
		message := respErr.Message
		if message == "" && respErr.Response != nil {
			message = http.StatusText(respErr.Response.StatusCode)
		}
		return newAPIError(respErr.Response, message)
	}
	return err
}
