// Package worker bounds CPU-heavy pipeline stages with an ants goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolOverload is returned when a nonblocking pool is full.
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// Config defines the pool configuration.
type Config struct {
	// Capacity is the maximum number of concurrently running tasks.
	Capacity int
	// ExpiryDuration is how long an idle worker goroutine is kept.
	ExpiryDuration time.Duration
	// Nonblocking makes Do fail with ErrPoolOverload instead of waiting for a free worker.
	Nonblocking bool
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Panics    int64
	Rejected  int64
}

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	name   string
	pool   *ants.Pool
	log    *zap.Logger
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
	rejected  atomic.Int64
}

// NewPool creates a pool named for logs.
func NewPool(name string, cfg Config, log *zap.Logger) (*Pool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("pool %s: capacity must be positive, got %d", name, cfg.Capacity)
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{name: name, log: log.With(zap.String("pool", name))}
	ap, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithNonblocking(cfg.Nonblocking),
	)
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}
	p.pool = ap

	p.log.Info("worker_pool_created", zap.Int("capacity", cfg.Capacity))
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Cap returns the pool capacity.
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running returns the number of busy workers.
func (p *Pool) Running() int { return p.pool.Running() }

// Do runs fn on a pool worker and waits for its result.
// If ctx ends first, Do returns the context error; a task that has already
// started keeps running but its result is discarded.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.log.Error("worker_panic_recovered", zap.Any("panic", r))
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		err := fn()
		p.completed.Add(1)
		done <- err
	})
	if err != nil {
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			p.rejected.Add(1)
			return ErrPoolOverload
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		}
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Release stops accepting tasks and waits up to timeout for running ones.
func (p *Pool) Release(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.log.Info("worker_pool_released")
	return p.pool.ReleaseTimeout(timeout)
}
