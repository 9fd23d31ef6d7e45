// Package dispatch runs statistical jobs on a bounded set of worker goroutines
// and hands their results back to the single goroutine that orchestrates the
// analysis.
//
// Jobs never call back into the orchestrator directly. Completions and
// progress reports are queued, and run only when the orchestrator calls
// Pool.Drain or Pool.Run, so processors can update their state without locks.
package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when submitting to a closed pool
var ErrClosed = errors.New("worker pool is closed")

// Pool is a bounded worker pool with an orchestrator-side completion queue
type Pool struct {
	logger *zap.Logger
	slots  chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
}

// NewPool creates a pool running at most workers jobs at once. Zero or a
// negative count uses one worker per CPU.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		logger: logger,
		slots:  make(chan struct{}, workers),
		notify: make(chan struct{}, 1),
	}
}

// Workers returns the maximum number of concurrently running jobs
func (p *Pool) Workers() int { return cap(p.slots) }

// submit starts task as soon as a worker slot is free
func (p *Pool) submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.slots <- struct{}{}
		defer func() { <-p.slots }()
		task()
	}()
	return nil
}

// post queues fn to run on the orchestrating goroutine
func (p *Pool) post(fn func()) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives a value after work has been queued
// for Drain. Use it to wait for completions alongside other events.
func (p *Pool) Notify() <-chan struct{} { return p.notify }

// Drain runs every queued completion and progress callback on the calling
// goroutine, in the order they were queued. It returns the number run.
func (p *Pool) Drain() int {
	n := 0
	for {
		p.mu.Lock()
		queued := p.queue
		p.queue = nil
		p.mu.Unlock()

		if len(queued) == 0 {
			return n
		}
		for _, fn := range queued {
			fn()
		}
		n += len(queued)
	}
}

// Run drains completions as they arrive until ctx is done
func (p *Pool) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.notify:
			p.Drain()
		}
	}
}

// Wait blocks until every submitted job has finished. Their completions are
// still queued and need a Drain.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close rejects further jobs and waits for the running ones
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
