// Package encoder turns texts into dense vectors.
//
// Encoders are explicit service instances with an Open/Close lifecycle and
// are shared by reference between the pipeline and the mutation engine.
package encoder

import (
	"context"
	"errors"
)

// DefaultBatchSize is the number of texts sent per Encode batch.
const DefaultBatchSize = 64

// ProgressFunc receives advisory batch progress. Implementations may call it
// from the encoding goroutine; it must not block.
type ProgressFunc func(batchIndex, batchTotal, itemsDone, itemsTotal int)

// Encoder maps texts to fixed-size vectors.
type Encoder interface {
	// Name identifies the model (recorded in result metadata).
	Name() string

	// Open acquires resources (clients, model state). It is safe to call
	// more than once.
	Open(ctx context.Context) error

	// Close releases resources.
	Close() error

	// Encode returns one vector per text, in order.
	Encode(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error)
}

// ErrNotOpen is returned by Encode before Open succeeded.
var ErrNotOpen = errors.New("encoder not open")

// batches splits n items into ranges of at most size.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

func report(progress ProgressFunc, batchIndex, batchTotal, itemsDone, itemsTotal int) {
	if progress != nil {
		progress(batchIndex, batchTotal, itemsDone, itemsTotal)
	}
}
