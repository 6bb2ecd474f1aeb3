// Package poolerrors contains the errors returned by the chunk pool and its collaborators.
// Callers should match on these types using errors.As, since they are usually wrapped with
// additional context on the way up.
//
// If multiple errors occur in some function (e.g., if a chunk fails several validation checks), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package poolerrors

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "input cookie"
	Value   string // Resource name, e.g., "7"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "dataSizePerJob"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrInvalidState is returned when an operation is not allowed in the current state of the pool,
// e.g. adding input after the pool has been finished.
type ErrInvalidState struct {
	Operation string
	State     string
}

func (err *ErrInvalidState) Error() string {
	return fmt.Sprintf("operation %s is not allowed when pool is %s", err.Operation, err.State)
}

// ErrSliceLimitExceeded is returned when the pool has materialised more data slices than allowed.
// The pool is unusable after this error.
type ErrSliceLimitExceeded struct {
	Actual   int64
	Limit    int64
	JobCount int
}

func (err *ErrSliceLimitExceeded) Error() string {
	return fmt.Sprintf(
		"total number of data slices %d in %d jobs exceeds the limit of %d",
		err.Actual, err.JobCount, err.Limit,
	)
}

// ErrMissingBoundaryKeys is returned when a chunk without boundary keys is used somewhere they are required.
type ErrMissingBoundaryKeys struct {
	ChunkId uuid.UUID
}

func (err *ErrMissingBoundaryKeys) Error() string {
	return fmt.Sprintf("chunk %s has no boundary keys", err.ChunkId)
}

// ErrRowCountMismatch is returned when the slices delivered for a chunk do not add up to the chunk.
type ErrRowCountMismatch struct {
	ChunkId  uuid.UUID
	Expected int64
	Actual   int64
}

func (err *ErrRowCountMismatch) Error() string {
	return fmt.Sprintf("slices of chunk %s contain %d rows; expected %d", err.ChunkId, err.Actual, err.Expected)
}

// ErrOutputInvalidated is passed to invalidation subscribers when jobs built by the pool can no longer be trusted.
// It is never returned from a pool operation.
type ErrOutputInvalidated struct {
	InputCookie int
	Reason      string
}

func (err *ErrOutputInvalidated) Error() string {
	return fmt.Sprintf("pool output invalidated after input cookie %d changed: %s", err.InputCookie, err.Reason)
}

// ErrUnsupportedSnapshotVersion is returned when restoring a snapshot written by an incompatible version.
type ErrUnsupportedSnapshotVersion struct {
	Version   uint64
	Supported uint64
}

func (err *ErrUnsupportedSnapshotVersion) Error() string {
	return fmt.Sprintf("snapshot version %d is not supported; expected %d", err.Version, err.Supported)
}

// IsFatal returns true if err leaves the pool in a state from which scheduling must not continue.
func IsFatal(err error) bool {
	{
		var e *ErrSliceLimitExceeded
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrMissingBoundaryKeys
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrRowCountMismatch
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
