package encoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/openaicompat"
	"github.com/3leaps/topichub/pkg/topics"
)

func dot(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestBatches(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, batches(5, 2))
	assert.Equal(t, [][2]int{{0, 5}}, batches(5, 0))
	assert.Empty(t, batches(0, 3))
}

func TestTFIDF_RequiresOpen(t *testing.T) {
	enc := NewTFIDF("", 0)
	assert.Equal(t, "tfidf", enc.Name())

	_, err := enc.Encode(context.Background(), []string{"x"}, 1, nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestTFIDF_Encode(t *testing.T) {
	enc := NewTFIDF("local", 256)
	require.NoError(t, enc.Open(context.Background()))
	defer func() { _ = enc.Close() }()

	texts := []string{
		"refund request for damaged package",
		"damaged package refund please",
		"password reset link expired",
	}

	var calls []int
	vecs, err := enc.Encode(context.Background(), texts, 2, func(bi, bt, done, total int) {
		calls = append(calls, done)
		assert.Equal(t, 2, bt)
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []int{2, 3}, calls)

	for _, v := range vecs {
		assert.Len(t, v, 256)
		assert.InDelta(t, 1.0, dot(v, v), 1e-5)
	}
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestTFIDF_EmptyTextIsZeroVector(t *testing.T) {
	enc := NewTFIDF("", 16)
	require.NoError(t, enc.Open(context.Background()))

	vecs, err := enc.Encode(context.Background(), []string{"the and of"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vecs[0])
}

func TestOpenAI_Encode(t *testing.T) {
	var mu sync.Mutex
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		mu.Lock()
		batchSizes = append(batchSizes, len(req.Input))
		mu.Unlock()

		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		// Reply in reverse order; the encoder must restore input order.
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float64{float64(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	enc := NewOpenAI(OpenAIConfig{Model: "test-model", Client: openaicompat.Config{BaseURL: srv.URL}})
	_, err := enc.Encode(context.Background(), []string{"a"}, 1, nil)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, enc.Open(context.Background()))
	vecs, err := enc.Encode(context.Background(), []string{"a", "bb", "ccc"}, 2, nil)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 1}, vecs[0])
	assert.Equal(t, []float32{2, 1}, vecs[1])
	assert.Equal(t, []float32{3, 1}, vecs[2])
	assert.Equal(t, []int{2, 1}, batchSizes)
}

func TestOpenAI_RequireKey(t *testing.T) {
	enc := NewOpenAI(OpenAIConfig{RequireKey: true, Client: openaicompat.Config{APIKeyEnv: "TOPICHUB_TEST_MISSING_KEY"}})
	err := enc.Open(context.Background())
	assert.ErrorIs(t, err, openaicompat.ErrNoAPIKey)
}

// recordingEncoder captures the texts it was asked to encode.
type recordingEncoder struct {
	mu     sync.Mutex
	texts  []string
	opened int
	closed int
}

func (r *recordingEncoder) Name() string { return "recording" }

func (r *recordingEncoder) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return nil
}

func (r *recordingEncoder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recordingEncoder) Encode(_ context.Context, texts []string, _ int, _ ProgressFunc) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestRegistry(t *testing.T) {
	plain := &recordingEncoder{}
	e5 := &recordingEncoder{}

	reg := NewRegistry()
	require.NoError(t, reg.Register(Model{Name: "plain"}, plain))
	require.NoError(t, reg.Register(Model{Name: "e5", Prefix: "query: "}, e5))
	assert.Equal(t, []string{"plain", "e5"}, reg.Models())

	err := reg.Register(Model{Name: "plain"}, plain)
	assert.True(t, topics.IsInvalidInput(err))

	require.NoError(t, reg.Open(context.Background()))
	assert.Equal(t, 1, plain.opened)
	assert.Equal(t, 1, e5.opened)

	def, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "recording", def.Name())

	enc, err := reg.Resolve("e5")
	require.NoError(t, err)
	assert.Equal(t, "e5", enc.Name())
	_, err = enc.Encode(context.Background(), []string{"hello"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"query: hello"}, e5.texts)

	_, err = reg.Resolve("missing")
	assert.True(t, topics.IsInvalidInput(err))

	require.NoError(t, reg.Close())
	assert.Equal(t, 1, plain.closed)
	assert.Equal(t, 1, e5.closed)
}

func TestRegistry_EmptyResolve(t *testing.T) {
	_, err := NewRegistry().Resolve("")
	require.Error(t, err)
	assert.Equal(t, topics.KindInternal, topics.KindOf(err))
}
