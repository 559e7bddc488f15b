package shelf

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every storage call made while no
	// adapter is active or the active adapter has lost its grant.
	ErrNotConnected = errors.New("storage not connected")

	// ErrCancelled means the user dismissed a directory picker or an
	// authorization flow. Callers treat it as a silent no-op.
	ErrCancelled = errors.New("cancelled by user")

	// ErrNotFound is returned when a named file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStale is returned by LoadItems when the active adapter changed
	// while the load was in flight; its results were dropped.
	ErrStale = errors.New("storage changed during load")

	// ErrUndoEmpty is returned by Undo when there is nothing to restore.
	ErrUndoEmpty = errors.New("nothing to undo")

	// ErrInvalidItem wraps validation failures from SaveItem.
	ErrInvalidItem = errors.New("invalid item")
)

// ItemError carries the file a failed operation was working on so callers
// can show a per-item message.
type ItemError struct {
	Op   string // "load", "save", "delete", "restore", ...
	Name string // filename
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// NetworkError is a failed or timed-out remote call. Network failures are
// always worth retrying.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *NetworkError) Retryable() bool { return true }

// Timeout reports whether the call hit its deadline.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsRetryable reports whether err, or anything it wraps, is a retryable
// network failure.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Retryable()
}
