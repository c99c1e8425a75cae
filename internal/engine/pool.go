package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool is a fixed set of handles shared by analysis workers.
// A worker acquires one handle per game and releases it when done, so
// a game never interleaves positions between engines.
type Pool struct {
	handles chan *Handle
	all     []*Handle

	mu     sync.Mutex
	closed bool
}

// NewPool creates size handles over factory. Engines start lazily on the
// first evaluation of each handle.
func NewPool(size int, factory Factory, opts ...HandleOption) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("engine: pool size must be positive, got %d", size)
	}
	p := &Pool{
		handles: make(chan *Handle, size),
		all:     make([]*Handle, 0, size),
	}
	for i := 0; i < size; i++ {
		h := NewHandle(factory, opts...)
		p.all = append(p.all, h)
		p.handles <- h
	}
	return p, nil
}

// Size returns the number of handles.
func (p *Pool) Size() int {
	return len(p.all)
}

// Acquire blocks until a handle is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case h := <-p.handles:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool.
func (p *Pool) Release(h *Handle) {
	p.handles <- h
}

// Close shuts down every engine. Handles must have been released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, h := range p.all {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
