package encoder

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/3leaps/topichub/pkg/textproc"
)

// DefaultTFIDFDimension is the hashed feature space size of the local encoder.
const DefaultTFIDFDimension = 512

// TFIDF is an offline encoder: smoothed TF-IDF over unigrams and bigrams,
// hashed into a fixed number of dimensions and L2-normalised.
//
// IDF statistics are fitted on the texts of each Encode call, so vectors from
// different calls are comparable only approximately.
type TFIDF struct {
	name string
	dim  int

	mu   sync.Mutex
	open bool
}

var _ Encoder = (*TFIDF)(nil)

// NewTFIDF returns a local encoder with dim hashed features (0 uses the
// default).
func NewTFIDF(name string, dim int) *TFIDF {
	if dim <= 0 {
		dim = DefaultTFIDFDimension
	}
	if name == "" {
		name = "tfidf"
	}
	return &TFIDF{name: name, dim: dim}
}

func (e *TFIDF) Name() string { return e.name }

func (e *TFIDF) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	return nil
}

func (e *TFIDF) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

func (e *TFIDF) Encode(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	e.mu.Lock()
	open := e.open
	e.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}

	docs := make([][]string, len(texts))
	df := make(map[string]int)
	for i, t := range texts {
		docs[i] = textproc.Terms(textproc.Tokenize(t))
		seen := make(map[string]struct{}, len(docs[i]))
		for _, term := range docs[i] {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	n := float64(len(texts))
	out := make([][]float32, len(texts))
	parts := batches(len(texts), batchSize)
	for bi, r := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := r[0]; i < r[1]; i++ {
			out[i] = e.vector(docs[i], df, n)
		}
		report(progress, bi+1, len(parts), r[1], len(texts))
	}
	return out, nil
}

func (e *TFIDF) vector(terms []string, df map[string]int, n float64) []float32 {
	vec := make([]float64, e.dim)
	if len(terms) == 0 {
		return make([]float32, e.dim)
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	total := float64(len(terms))
	for term, count := range tf {
		idf := math.Log((1+n)/(1+float64(df[term]))) + 1.0
		idx, sign := hashFeature(term, e.dim)
		vec[idx] += sign * (float64(count) / total) * idf
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// hashFeature maps a term to a bucket and a +1/-1 sign.
func hashFeature(term string, dim int) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(dim)), sign
}
