package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/topics"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"capacity", topics.ErrCapacityExceeded, http.StatusTooManyRequests, CodeQueueFull},
		{"job not found", &topics.Error{Op: "Get", Kind: topics.KindNotFound, JobID: "j1", Err: artifact.ErrNotFound}, http.StatusNotFound, CodeJobNotFound},
		{"topic not found in job", &topics.Error{Op: "Rename", Kind: topics.KindNotFound, JobID: "j1", Err: fmt.Errorf("topic 4 does not exist")}, http.StatusNotFound, CodeNotFound},
		{"not found without job", topics.Errorf("Resolve", topics.KindNotFound, "no topic 4"), http.StatusNotFound, CodeNotFound},
		{"source not found", &topics.Error{Op: "SubmitDerived", Kind: topics.KindSourceNotFound, JobID: "j1"}, http.StatusNotFound, CodeCachedJobNotFound},
		{"invalid input", topics.Errorf("Merge", topics.KindInvalidInput, "need two clusters"), http.StatusBadRequest, CodeInvalidInput},
		{"too few texts", topics.Wrap("PrepareTexts", topics.KindInvalidInput, &topics.TextsError{Code: topics.CodeTooFewTexts, Count: 2, Limit: 10}), http.StatusBadRequest, topics.CodeTooFewTexts},
		{"upstream", topics.Wrap("Encode", topics.KindUpstreamUnavailable, fmt.Errorf("connection refused")), http.StatusServiceUnavailable, CodeUpstreamUnavailable},
		{"timeout", topics.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternal},
		{"api error", NewAPIError(http.StatusNotFound, CodeEmbeddingsNotCached, "no vectors"), http.StatusNotFound, CodeEmbeddingsNotCached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestClassifyHidesInternalDetail(t *testing.T) {
	_, _, msg := Classify(fmt.Errorf("dial tcp 10.0.0.7:6379: secret"))
	assert.Equal(t, "Internal server error", msg)
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cluster/job/abc", nil)
	req = req.WithContext(context.WithValue(req.Context(), chimw.RequestIDKey, "req-42"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &topics.Error{Op: "Get", Kind: topics.KindNotFound, JobID: "abc", Err: artifact.ErrNotFound})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeJobNotFound, body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestRespondWithErrorCarriesDetails(t *testing.T) {
	apiErr := NewAPIError(http.StatusNotFound, CodeEmbeddingsNotCached, "no cached embeddings")
	apiErr.Details = map[string]any{"jobId": "abc"}

	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodPost, "/", nil), apiErr)

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "abc", body.Error.Details["jobId"])
}
