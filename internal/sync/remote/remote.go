// Package remote defines the central-service client used by the drain loop.
// The engine only needs four verbs; everything else (auth, transport tuning)
// lives behind the Client implementation.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client talks to the central licensing service.
type Client interface {
	// Create submits a new record and returns the server-assigned id.
	Create(ctx context.Context, payload json.RawMessage) (string, error)

	// Update overwrites a record the server already knows by id.
	Update(ctx context.Context, id string, payload json.RawMessage) error

	// Delete removes a record. Deleting an id the server no longer has is
	// success: the intended end state already holds.
	Delete(ctx context.Context, id string) error

	// Ping probes reachability without side effects.
	Ping(ctx context.Context) error
}

// Error is a rejection from the central service, carrying the status code so
// the drain loop can classify it.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a failure is transient: network errors,
// timeouts, server-side errors, and throttling. Everything else is a
// permanent rejection and must not burn retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		switch {
		case remoteErr.StatusCode >= 500:
			return true
		case remoteErr.StatusCode == 408, remoteErr.StatusCode == 429:
			return true
		default:
			return false
		}
	}

	// Anything that never produced a status code is a connectivity problem:
	// dial failures, timeouts, resets. All worth retrying.
	return true
}

// IsNotFound reports whether the server answered 404.
func IsNotFound(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == 404
}

// IsConflict reports whether the server answered 409.
func IsConflict(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == 409
}
