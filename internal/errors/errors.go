// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidRepoFormat is returned when a repository string in the config is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrUnknownResource is returned when RESOURCES names something the syncer cannot fetch.
type ErrUnknownResource struct {
	Resource string
}

func (e *ErrUnknownResource) Error() string {
	return fmt.Sprintf("unknown resource: %q", e.Resource)
}

// ErrRepoNotStored is returned when a row attached to a repository is
// written before the repository itself.
type ErrRepoNotStored struct {
	RepoID int64
}

func (e *ErrRepoNotStored) Error() string {
	return fmt.Sprintf("repository %d is not stored", e.RepoID)
}

// ErrInvalidWorkflow wraps a workflow document that could not be decomposed.
type ErrInvalidWorkflow struct {
	Filename string
	Err      error
}

func (e *ErrInvalidWorkflow) Error() string {
	return fmt.Sprintf("invalid workflow %s: %v", e.Filename, e.Err)
}

func (e *ErrInvalidWorkflow) Unwrap() error {
	return e.Err
}

// ErrMalformedRecord is returned when a record lacks the shape a normalizer
// relies on or holds a value its column cannot store. The record is skipped.
type ErrMalformedRecord struct {
	Kind   string
	Reason string
}

func (e *ErrMalformedRecord) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.Kind, e.Reason)
}

// ErrMissingKey is returned when a record lacks a field its table needs.
var ErrMissingKey = errors.New("record is missing a primary key value")

// ErrNotSearchable is returned when a table has no full-text index.
var ErrNotSearchable = errors.New("table has no full-text index")
