package topics

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react to it (HTTP status
// mapping, retry decisions).
type Kind string

const (
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
	KindSourceNotFound      Kind = "source_not_found"
)

// Sentinel errors, one per Kind.
var (
	// ErrCapacityExceeded indicates the admission ceiling was reached. Retryable.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound indicates a job, topic, result or model does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates an operation precondition was violated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable indicates an Encoder, Analyzer or Labeler failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTimeout indicates the pipeline exceeded its wall-clock budget.
	ErrTimeout = errors.New("pipeline timeout")

	// ErrInternal indicates an unexpected failure.
	ErrInternal = errors.New("internal error")

	// ErrSourceNotFound indicates a derived job referenced a source whose texts
	// are gone.
	ErrSourceNotFound = errors.New("source job not found")
)

var kindSentinels = map[Kind]error{
	KindCapacityExceeded:    ErrCapacityExceeded,
	KindNotFound:            ErrNotFound,
	KindInvalidInput:        ErrInvalidInput,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindTimeout:             ErrTimeout,
	KindInternal:            ErrInternal,
	KindSourceNotFound:      ErrSourceNotFound,
}

// Error wraps a domain failure with the operation and job it belongs to.
type Error struct {
	// Op is the operation that failed (e.g., "Create", "Merge").
	Op string

	// Kind classifies the failure.
	Kind Kind

	// JobID is the job the operation targeted, if any.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.JobID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNotFound) true for an *Error of KindNotFound even
// when Err carries a more specific message.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and op to err. A nil err stays nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsCapacityExceeded returns true if the admission ceiling was reached.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// IsNotFound returns true if the error indicates a missing job, topic or model.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput returns true if the error indicates a violated precondition.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUpstreamUnavailable returns true if an external collaborator failed.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsTimeout returns true if the pipeline exceeded its deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsSourceNotFound returns true if a derived job's source is gone.
func IsSourceNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound)
}
