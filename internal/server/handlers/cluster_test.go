package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/topichub/internal/errors"
	"github.com/3leaps/topichub/pkg/admission"
	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/mutator"
	"github.com/3leaps/topichub/pkg/pipeline"
	"github.com/3leaps/topichub/pkg/topics"
)

type testAPI struct {
	api     *ClusterAPI
	orch    *pipeline.Orchestrator
	reg     *jobregistry.Registry
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	reg, err := jobregistry.New(artifact.NewMemoryStore(), admission.New(4), jobregistry.Config{})
	require.NoError(t, err)

	encs := encoder.NewRegistry()
	require.NoError(t, encs.Register(encoder.Model{Name: "tfidf"}, encoder.NewTFIDF("tfidf", 64)))
	require.NoError(t, encs.Open(context.Background()))

	an := analyzer.New(analyzer.Config{})
	lb := labeler.Keywords{}
	orch := pipeline.New(reg, encs, an, lb, pipeline.NewPool(2), pipeline.Config{})
	mut := mutator.New(reg, an, lb, mutator.Config{})

	api := NewClusterAPI(orch, mut, encs, nil)
	return &testAPI{api: api, orch: orch, reg: reg, handler: api.Routes()}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[apperrors.HTTPErrorResponse](t, rec).Error.Code
}

func sampleTexts() []string {
	texts := make([]string, 0, 30)
	for i := 0; i < 10; i++ {
		texts = append(texts,
			"battery drains fast after update",
			"refund request for damaged parcel",
			"delivery courier arrived late again",
		)
	}
	return texts
}

// graph builds three well separated topics of four documents each.
func graph() ([]topics.Document, []topics.Topic) {
	var docs []topics.Document
	var tps []topics.Topic
	words := []string{"battery", "refund", "courier"}
	for id, word := range words {
		for i := 0; i < 4; i++ {
			docs = append(docs, topics.Document{
				ID:        fmt.Sprintf("doc-%d", len(docs)),
				Text:      fmt.Sprintf("%s complaint %d", word, i),
				ClusterID: id,
				X:         float64(id*40 + i%2),
				Y:         float64(i / 2),
			})
		}
		tps = append(tps, topics.Topic{
			ID:             id,
			Label:          word,
			DocumentCount:  4,
			Color:          topics.Color(id),
			CoherenceScore: 0.8,
			Keywords:       []string{word, "complaint"},
		})
	}
	return docs, tps
}

func TestClusterAPI_SubmitAndFetch(t *testing.T) {
	ta := newTestAPI(t)
	k := 3

	rec := ta.do(t, http.MethodPost, "/", map[string]any{
		"texts":  sampleTexts(),
		"config": topics.ClusteringConfig{Algorithm: topics.AlgorithmKMeans, NumClusters: &k, DimReduction: topics.ReductionNone},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decodeBody[submitResponse](t, rec)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, topics.StatusQueued, sub.Status)

	ta.orch.Wait()

	rec = ta.do(t, http.MethodGet, "/job/"+sub.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[jobResponse](t, rec)
	assert.Equal(t, topics.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 30, job.Result.TotalDocuments)

	rec = ta.do(t, http.MethodPost, "/recluster", map[string]any{
		"jobId":  sub.JobID,
		"config": topics.ClusteringConfig{Algorithm: topics.AlgorithmKMeans, NumClusters: &k, DimReduction: topics.ReductionNone},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	derived := decodeBody[submitResponse](t, rec)
	assert.Equal(t, sub.JobID, derived.CachedFrom)
	assert.NotEqual(t, sub.JobID, derived.JobID)

	ta.orch.Wait()

	rec = ta.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Jobs []jobregistry.Job `json:"jobs"`
	}](t, rec)
	assert.Len(t, list.Jobs, 2)

	rec = ta.do(t, http.MethodDelete, "/job/"+sub.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["deleted"])

	rec = ta.do(t, http.MethodGet, "/job/"+sub.JobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeJobNotFound, errorCode(t, rec))
}

func TestClusterAPI_SubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed body", http.MethodPost, "/", "{not json", http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"empty body", http.MethodPost, "/", nil, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"too few texts", http.MethodPost, "/", map[string]any{"texts": []string{"a", "b"}}, http.StatusBadRequest, topics.CodeTooFewTexts},
		{"unknown cached job", http.MethodPost, "/", map[string]any{"config": map[string]any{"cachedJobId": "ghost"}}, http.StatusNotFound, apperrors.CodeCachedJobNotFound},
		{"recluster without vectors", http.MethodPost, "/recluster", map[string]any{"jobId": "ghost"}, http.StatusNotFound, apperrors.CodeEmbeddingsNotCached},
		{"recluster without job id", http.MethodPost, "/recluster", map[string]any{}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"unknown job", http.MethodGet, "/job/ghost", nil, http.StatusNotFound, apperrors.CodeJobNotFound},
		{"delete unknown job", http.MethodDelete, "/job/ghost", nil, http.StatusNotFound, apperrors.CodeJobNotFound},
		{"generate labels without ids", http.MethodPost, "/generate-labels", map[string]any{"topicIds": []int{}}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"unknown field", http.MethodPost, "/", map[string]any{"texts": sampleTexts(), "clusters": 3}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"unknown config field", http.MethodPost, "/recluster", map[string]any{"jobId": "job-1", "config": map[string]any{"k": 3}}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"merge without graph", http.MethodPost, "/merge", map[string]any{"clusterIds": []int{0, 1}, "newLabel": "x"}, http.StatusBadRequest, apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t)
			rec := ta.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestClusterAPI_Encoders(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/encoders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]string](t, rec)
	assert.Equal(t, []string{"tfidf"}, body["models"])
}

func TestClusterAPI_RenameStored(t *testing.T) {
	ta := newTestAPI(t)
	docs, tps := graph()
	stored := &topics.Result{Documents: docs, Topics: tps}
	topics.Reconcile(stored)
	require.NoError(t, ta.reg.PutResult(context.Background(), "job-1", stored))

	rec := ta.do(t, http.MethodPatch, "/rename", map[string]any{"jobId": "job-1", "topicId": 1, "newLabel": "Refunds"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeBody[topics.RenameRecord](t, rec)
	assert.True(t, record.Updated)
	assert.Equal(t, "refund", record.OldLabel)

	after, err := ta.reg.Result(context.Background(), "job-1")
	require.NoError(t, err)
	tp, _ := after.TopicByID(1)
	assert.Equal(t, "Refunds", tp.Label)

	rec = ta.do(t, http.MethodPatch, "/rename", map[string]any{"jobId": "job-1", "topicId": 9, "newLabel": "Ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(t, rec))

	rec = ta.do(t, http.MethodPatch, "/rename", map[string]any{"jobId": "missing", "topicId": 1, "newLabel": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeJobNotFound, errorCode(t, rec))
}

func TestClusterAPI_RenameInline(t *testing.T) {
	ta := newTestAPI(t)
	_, tps := graph()

	rec := ta.do(t, http.MethodPatch, "/rename", map[string]any{"topicId": 2, "newLabel": "Couriers", "topics": tps})
	require.Equal(t, http.StatusOK, rec.Code)
	record := decodeBody[topics.RenameRecord](t, rec)
	assert.True(t, record.Updated)
	assert.Equal(t, "courier", record.OldLabel)

	rec = ta.do(t, http.MethodPatch, "/rename", map[string]any{"topicId": 2, "newLabel": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClusterAPI_MergeInline(t *testing.T) {
	ta := newTestAPI(t)
	docs, tps := graph()

	rec := ta.do(t, http.MethodPost, "/merge", map[string]any{
		"clusterIds": []int{0, 1},
		"newLabel":   "Power and money",
		"documents":  docs,
		"topics":     tps,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[topics.Result](t, rec)
	assert.Len(t, out.Topics, 2)
	require.NotNil(t, out.MergeInfo)
	assert.Equal(t, 8, out.MergeInfo.DocumentsAffected)
	merged, ok := out.TopicByID(0)
	require.True(t, ok)
	assert.Equal(t, "Power and money", merged.Label)
}

func TestClusterAPI_SplitInlineNeedsEnoughDocuments(t *testing.T) {
	ta := newTestAPI(t)
	docs, tps := graph()

	rec := ta.do(t, http.MethodPost, "/split", map[string]any{
		"clusterId":      0,
		"numSubclusters": 3,
		"documents":      docs,
		"topics":         tps,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, errorCode(t, rec))
}

func TestClusterAPI_GenerateLabelsInline(t *testing.T) {
	ta := newTestAPI(t)
	docs, tps := graph()

	rec := ta.do(t, http.MethodPost, "/generate-labels", map[string]any{
		"topicIds":  []int{1},
		"documents": docs,
		"topics":    tps,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[generateLabelsResponse](t, rec)
	require.Len(t, body.UpdatedTopics, 1)
	assert.Equal(t, 1, body.UpdatedTopics[0].ID)
	assert.NotEmpty(t, body.UpdatedTopics[0].Label)
	assert.False(t, body.Timestamp.IsZero())
}

func TestClusterAPI_RefineInline(t *testing.T) {
	ta := newTestAPI(t)
	docs, tps := graph()

	rec := ta.do(t, http.MethodPost, "/refine", map[string]any{
		"topics":     tps,
		"documents":  docs,
		"focusAreas": []string{"naming"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ref := decodeBody[topics.Refinement](t, rec)
	assert.Equal(t, []string{"naming"}, ref.Analysis.FocusAreasAnalyzed)
	assert.LessOrEqual(t, len(ref.Suggestions), labeler.MaxSuggestions)

	rec = ta.do(t, http.MethodPost, "/refine", map[string]any{"topics": []topics.Topic{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
