package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/openaicompat"
	"github.com/3leaps/topichub/pkg/topics"
)

// failingLabeler fails every call and counts them.
type failingLabeler struct {
	mu    sync.Mutex
	calls int
}

func (f *failingLabeler) Name() string { return "failing" }

func (f *failingLabeler) Label(context.Context, ClusterSummary) (Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return Label{}, errors.New("model offline")
}

func (f *failingLabeler) SuggestImprovements(context.Context, []topics.Topic, Stats) (*topics.Refinement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errors.New("model offline")
}

func sampleTopics() []topics.Topic {
	return []topics.Topic{
		{ID: 0, Label: "Refunds", DocumentCount: 10, CoherenceScore: 0.8, Keywords: []string{"refund", "money", "return", "order"}},
		{ID: 1, Label: "Returns", DocumentCount: 8, CoherenceScore: 0.4, Keywords: []string{"return", "refund", "order", "label"}},
		{ID: 2, Label: "Login", DocumentCount: 4, CoherenceScore: 0.3, Keywords: []string{"password"}},
	}
}

func TestFallbackLabel(t *testing.T) {
	l := FallbackLabel(ClusterSummary{ID: 3, DocumentCount: 12, Keywords: []string{"refund", "money", "return", "order"}})
	assert.Equal(t, "Refund, money, return", l.Label)
	assert.Equal(t, "Automatically detected category (12 documents)", l.Description)

	l = FallbackLabel(ClusterSummary{ID: 3})
	assert.Equal(t, "Cluster 3", l.Label)
}

func TestLabelOrFallback(t *testing.T) {
	f := &failingLabeler{}
	s := ClusterSummary{ID: 1, DocumentCount: 2, Keywords: []string{"alpha"}}

	got := LabelOrFallback(context.Background(), f, s, zap.NewNop())
	assert.Equal(t, "Alpha", got.Label)
	assert.Equal(t, 1, f.calls)
}

func TestRefine_FallsBackToAnalysis(t *testing.T) {
	f := &failingLabeler{}
	ref := Refine(context.Background(), f, sampleTopics(), Stats{FocusAreas: []string{"naming"}}, nil)

	require.NotNil(t, ref)
	assert.Empty(t, ref.Suggestions)
	assert.NotNil(t, ref.Suggestions)
	assert.Equal(t, []int{1, 2}, ref.Analysis.ProblematicClusters)
	assert.Equal(t, []string{"naming"}, ref.Analysis.FocusAreasAnalyzed)
}

func TestAnalyze(t *testing.T) {
	a := Analyze(sampleTopics(), nil)
	assert.Equal(t, 0.5, a.OverallCoherence)
	assert.Equal(t, []int{1, 2}, a.ProblematicClusters)
	assert.Equal(t, 3, a.SuggestedOptimalK)
	assert.Equal(t, []string{}, a.FocusAreasAnalyzed)

	empty := Analyze(nil, nil)
	assert.Equal(t, 0.0, empty.OverallCoherence)
	assert.Equal(t, 2, empty.SuggestedOptimalK)
	assert.Equal(t, []int{}, empty.ProblematicClusters)
}

func TestSanitizeSuggestions(t *testing.T) {
	in := []topics.Suggestion{
		{Type: topics.SuggestMerge, Confidence: 1.4, Applied: true},
		{Type: "delete", Confidence: 0.9},
		{Type: topics.SuggestSplit, Confidence: -0.2},
		{Type: topics.SuggestRename, Confidence: 0.5},
		{Type: topics.SuggestReclassify, Confidence: 0.5},
		{Type: topics.SuggestRename, Confidence: 0.6},
		{Type: topics.SuggestRename, Confidence: 0.7},
	}
	out := SanitizeSuggestions(in)

	require.Len(t, out, 4)
	assert.Equal(t, 1.0, out[0].Confidence)
	assert.False(t, out[0].Applied)
	assert.Equal(t, []int{}, out[0].TargetClusterIDs)
	assert.Equal(t, 0.0, out[1].Confidence)
	for _, s := range out {
		assert.True(t, s.Type.Valid())
	}
}

func TestKeywords_SuggestImprovements(t *testing.T) {
	ref, err := Keywords{}.SuggestImprovements(context.Background(), sampleTopics(), Stats{})
	require.NoError(t, err)

	require.Len(t, ref.Suggestions, 2)
	assert.Equal(t, topics.SuggestMerge, ref.Suggestions[0].Type)
	assert.Equal(t, []int{0, 1}, ref.Suggestions[0].TargetClusterIDs)
	assert.Equal(t, topics.SuggestSplit, ref.Suggestions[1].Type)
	assert.Equal(t, []int{1}, ref.Suggestions[1].TargetClusterIDs)

	// Already proposed suggestions are not repeated.
	ref, err = Keywords{}.SuggestImprovements(context.Background(), sampleTopics(), Stats{Previous: ref.Suggestions[:1]})
	require.NoError(t, err)
	require.Len(t, ref.Suggestions, 1)
	assert.Equal(t, topics.SuggestSplit, ref.Suggestions[0].Type)
}

func chatServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		assert.Len(t, req.Messages, 2)

		mu.Lock()
		reply := replies[min(i, len(replies)-1)]
		i++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
}

func TestChat_Label(t *testing.T) {
	srv := chatServer(t, `Sure! {"label": "Refund requests", "description": "Customers asking for money back."} Hope this helps.`)
	defer srv.Close()

	c, err := NewChat(ChatConfig{Model: "test-chat", Client: openaicompat.Config{BaseURL: srv.URL, APIKey: "k"}})
	require.NoError(t, err)
	assert.Equal(t, "test-chat", c.Name())

	l, err := c.Label(context.Background(), ClusterSummary{ID: 1, DocumentCount: 3, SampleTexts: []string{"refund me"}, Keywords: []string{"refund"}})
	require.NoError(t, err)
	assert.Equal(t, "Refund requests", l.Label)
	assert.Equal(t, "Customers asking for money back.", l.Description)
}

func TestChat_LabelGarbageFails(t *testing.T) {
	srv := chatServer(t, "no json here")
	defer srv.Close()

	c, err := NewChat(ChatConfig{Client: openaicompat.Config{BaseURL: srv.URL, APIKey: "k"}})
	require.NoError(t, err)

	_, err = c.Label(context.Background(), ClusterSummary{ID: 1})
	assert.True(t, topics.IsUpstreamUnavailable(err))
}

func TestChat_SuggestImprovements(t *testing.T) {
	srv := chatServer(t, `{"suggestions": [
		{"type": "merge", "description": "similar", "targetClusterIds": [0, 1], "confidence": 1.5},
		{"type": "explode", "description": "bogus", "targetClusterIds": [2]},
		{"type": "Rename", "description": "vague", "targetClusterIds": [2], "suggestedLabel": "Password resets"}
	]}`)
	defer srv.Close()

	c, err := NewChat(ChatConfig{Client: openaicompat.Config{BaseURL: srv.URL, APIKey: "k"}})
	require.NoError(t, err)

	ref, err := c.SuggestImprovements(context.Background(), sampleTopics(), Stats{TotalDocuments: 22, FocusAreas: []string{"naming"}})
	require.NoError(t, err)
	require.Len(t, ref.Suggestions, 2)
	assert.Equal(t, topics.SuggestMerge, ref.Suggestions[0].Type)
	assert.Equal(t, 1.0, ref.Suggestions[0].Confidence)
	assert.Equal(t, []int{0, 1}, ref.Suggestions[0].TargetClusterIDs)
	assert.Equal(t, topics.SuggestRename, ref.Suggestions[1].Type)
	assert.Equal(t, "Password resets", ref.Suggestions[1].SuggestedLabel)
	assert.Equal(t, DefaultSuggestionWeight, ref.Suggestions[1].Confidence)
	assert.Equal(t, []int{1, 2}, ref.Analysis.ProblematicClusters)
}

func TestParseSuggestions_BareArray(t *testing.T) {
	out, err := parseSuggestions(`[{"type": "split", "targetClusterIds": [4]}]`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, topics.SuggestSplit, out[0].Type)
	assert.Equal(t, []int{4}, out[0].TargetClusterIDs)
}

func TestNewChat_RequiresKey(t *testing.T) {
	_, err := NewChat(ChatConfig{Client: openaicompat.Config{APIKeyEnv: "TOPICHUB_TEST_NO_SUCH_KEY"}})
	assert.ErrorIs(t, err, openaicompat.ErrNoAPIKey)
}

func TestRefinePrompt(t *testing.T) {
	p := refinePrompt(sampleTopics(), Stats{
		TotalDocuments: 22,
		Noise:          3,
		FocusAreas:     []string{"outliers", "custom"},
		Previous:       []topics.Suggestion{{Type: topics.SuggestMerge, Description: "merge 0 and 1"}},
	})
	assert.Contains(t, p, "22 documents, 3 clusters")
	assert.Contains(t, p, "noise): 3")
	assert.Contains(t, p, "uncategorised documents and potential reclassifications, custom")
	assert.Contains(t, p, "- [merge] merge 0 and 1")
	assert.True(t, strings.HasSuffix(p, "}]}"))
}
