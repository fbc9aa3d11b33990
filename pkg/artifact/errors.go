package artifact

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the key is absent or its TTL has elapsed.
	ErrNotFound = errors.New("artifact not found")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store closed")

	// ErrAccessDenied indicates the backend rejected the credentials in use.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnavailable indicates the backend could not be reached or throttled
	// the request.
	ErrUnavailable = errors.New("store unavailable")

	// ErrCorrupt indicates a stored value could not be decoded.
	ErrCorrupt = errors.New("corrupt artifact")
)

// StoreError wraps backend errors with the operation and key involved.
type StoreError struct {
	// Op is the operation that failed (e.g., "Get", "Put").
	Op string

	// Backend names the store implementation (e.g., "sqlite", "s3").
	Backend string

	// Key is the artifact key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing or expired key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if the backend could not serve the request.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
