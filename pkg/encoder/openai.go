package encoder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/3leaps/topichub/pkg/openaicompat"
)

// OpenAIConfig configures a remote embeddings encoder.
type OpenAIConfig struct {
	// Model is sent verbatim as the "model" field.
	Model string

	// Client settings (base URL, key, retries, rate limit).
	Client openaicompat.Config

	// RequireKey makes Open fail when no API key is configured. Leave false
	// for local OpenAI-compatible servers.
	RequireKey bool
}

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	cfg OpenAIConfig

	mu     sync.Mutex
	client *openaicompat.Client
}

var _ Encoder = (*OpenAI)(nil)

// NewOpenAI returns an unopened remote encoder.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &OpenAI{cfg: cfg}
}

func (e *OpenAI) Name() string { return e.cfg.Model }

func (e *OpenAI) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return nil
	}
	c := openaicompat.New(e.cfg.Client)
	if e.cfg.RequireKey && !c.HasKey() {
		return fmt.Errorf("encoder %s: %w", e.cfg.Model, openaicompat.ErrNoAPIKey)
	}
	e.client = c
	return nil
}

func (e *OpenAI) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = nil
	return nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAI) Encode(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	e.mu.Lock()
	c := e.client
	e.mu.Unlock()
	if c == nil {
		return nil, ErrNotOpen
	}

	out := make([][]float32, 0, len(texts))
	parts := batches(len(texts), batchSize)
	for bi, r := range parts {
		batch := texts[r[0]:r[1]]
		var resp embeddingsResponse
		if err := c.PostJSON(ctx, "embeddings", embeddingsRequest{Model: e.cfg.Model, Input: batch}, &resp); err != nil {
			return nil, fmt.Errorf("embeddings batch %d/%d: %w", bi+1, len(parts), err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embeddings batch %d/%d: got %d vectors for %d texts", bi+1, len(parts), len(resp.Data), len(batch))
		}
		sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		for _, d := range resp.Data {
			if len(d.Embedding) == 0 {
				return nil, errors.New("empty embedding returned")
			}
			v := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				v[i] = float32(f)
			}
			out = append(out, v)
		}
		report(progress, bi+1, len(parts), r[1], len(texts))
	}
	return out, nil
}
