package pipeline

import (
	"context"
	"fmt"
	"runtime"
)

// Pool bounds how many CPU-bound steps run at once across all jobs.
type Pool struct {
	sem chan struct{}
}

// NewPool returns a pool of size slots (<= 0 uses runtime.NumCPU()).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Go waits for a free slot, then runs fn on its own goroutine. The returned
// channel receives fn's error (or a recovered panic) exactly once. If ctx
// ends before a slot frees up, the channel receives ctx.Err() and fn never
// runs.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)

	select {
	case <-ctx.Done():
		done <- ctx.Err()
		return done
	case p.sem <- struct{}{}:
	}

	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in worker: %v", r)
			}
		}()
		done <- fn(ctx)
	}()
	return done
}

// Do runs fn through the pool and waits for it. It returns early with
// ctx.Err() when ctx ends first; fn keeps its slot until it returns.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := p.Go(ctx, fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
