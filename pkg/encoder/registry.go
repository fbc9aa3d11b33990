package encoder

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/3leaps/topichub/pkg/topics"
)

// Model is one configured encoder model.
type Model struct {
	// Name is the model identifier clients pass as encoderModel.
	Name string `json:"model" yaml:"model" mapstructure:"model"`

	// Prefix is prepended to every text before encoding (e.g., "query: "
	// for E5-style models). Empty means none.
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// Registry resolves model names to opened encoders. The first registered
// model is the default.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	encoders map[string]Encoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Encoder)}
}

// Register adds enc under m.Name, wrapping it when m.Prefix is set.
func (r *Registry) Register(m Model, enc Encoder) error {
	if m.Name == "" {
		return topics.Errorf("RegisterEncoder", topics.KindInvalidInput, "model name is required")
	}
	if m.Prefix != "" {
		enc = &prefixed{Encoder: enc, name: m.Name, prefix: m.Prefix}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.encoders[m.Name]; dup {
		return topics.Errorf("RegisterEncoder", topics.KindInvalidInput, "model %q registered twice", m.Name)
	}
	r.order = append(r.order, m.Name)
	r.encoders[m.Name] = enc
	return nil
}

// Resolve returns the encoder for model, or the default when model is empty.
func (r *Registry) Resolve(model string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if model == "" {
		if len(r.order) == 0 {
			return nil, topics.Errorf("ResolveEncoder", topics.KindInternal, "no encoders configured")
		}
		model = r.order[0]
	}
	enc, ok := r.encoders[model]
	if !ok {
		return nil, topics.Errorf("ResolveEncoder", topics.KindInvalidInput, "unknown encoder model %q (available: %v)", model, r.order)
	}
	return enc, nil
}

// Models lists registered model names in registration order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Open opens every registered encoder.
func (r *Registry) Open(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if err := r.encoders[name].Open(ctx); err != nil {
			return fmt.Errorf("open encoder %s: %w", name, err)
		}
	}
	return nil
}

// Close closes every registered encoder and returns the combined errors.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs error
	for _, name := range r.order {
		errs = multierr.Append(errs, r.encoders[name].Close())
	}
	return errs
}

type prefixed struct {
	Encoder
	name   string
	prefix string
}

func (p *prefixed) Name() string { return p.name }

func (p *prefixed) Encode(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	in := make([]string, len(texts))
	for i, t := range texts {
		in[i] = p.prefix + t
	}
	return p.Encoder.Encode(ctx, in, batchSize, progress)
}
