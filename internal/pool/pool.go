// Package pool bounds the number of concurrent clone tasks across one
// initial-sync attempt. All nested cloners share one Pool, so a database with
// many collections cannot starve the rest of the process.
package pool

import (
	"context"
	"runtime"
)

type Pool struct {
	sem chan struct{}
}

// New returns a pool admitting up to size concurrent tasks.
// size <= 0 defaults to half the CPU count, minimum 1.
func New(size int) *Pool {
	if size <= 0 {
		size = max(runtime.NumCPU()/2, 1)
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return cap(p.sem) }

// Do runs fn once a slot is free. It returns ctx.Err() if the context is
// canceled while waiting.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
