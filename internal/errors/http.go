// Package errors maps domain failures onto the HTTP error envelope.
//
// Every error response has the shape
//
//	{"error": {"code": "...", "message": "...", "requestId": "...", "details": {...}}}
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/topics"
)

// Error codes.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeCachedJobNotFound   = "CACHED_JOB_NOT_FOUND"
	CodeEmbeddingsNotCached = "EMBEDDINGS_NOT_CACHED"
	CodeQueueFull           = "QUEUE_FULL"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeInternal            = "INTERNAL_ERROR"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// APIError is an error that already knows its HTTP status and code.
// Handlers return it for failures that have no domain Kind (malformed
// bodies, missing caches).
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// NewAPIError builds an APIError.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// BadRequest is shorthand for a 400 INVALID_INPUT APIError.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, CodeInvalidInput, message)
}

// Classify returns the status, code and client-facing message for err.
// Internal failures get a generic message.
func Classify(err error) (int, string, string) {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Code, apiErr.Message
	}

	switch topics.KindOf(err) {
	case topics.KindCapacityExceeded:
		return http.StatusTooManyRequests, CodeQueueFull, "Too many concurrent jobs, retry later"
	case topics.KindNotFound:
		if artifact.IsNotFound(err) {
			return http.StatusNotFound, CodeJobNotFound, err.Error()
		}
		return http.StatusNotFound, CodeNotFound, err.Error()
	case topics.KindSourceNotFound:
		return http.StatusNotFound, CodeCachedJobNotFound, err.Error()
	case topics.KindInvalidInput:
		var textsErr *topics.TextsError
		if stderrors.As(err, &textsErr) {
			return http.StatusBadRequest, textsErr.Code, textsErr.Error()
		}
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case topics.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable, CodeUpstreamUnavailable, err.Error()
	case topics.KindTimeout:
		return http.StatusGatewayTimeout, CodeTimeout, err.Error()
	default:
		return http.StatusInternalServerError, CodeInternal, "Internal server error"
	}
}

// RespondWithError writes the envelope for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Classify(err)
	var details map[string]any
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		details = apiErr.Details
	}
	WriteError(w, r, status, code, message, details)
}

// WriteError writes an error envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := HTTPErrorResponse{Error: HTTPError{
		Code:    code,
		Message: message,
		Details: details,
	}}
	if r != nil {
		body.Error.RequestID = chimw.GetReqID(r.Context())
	}
	Write(w, status, body)
}

// Write encodes body as the JSON response.
func Write(w http.ResponseWriter, status int, body HTTPErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
