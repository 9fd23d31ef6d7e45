package dispatch

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is a cancellable computation. It should poll stop regularly and return
// early once it reports true; its result is discarded either way.
type Job[T any] func(stop func() bool, progress func(float64)) (T, error)

type handle struct {
	id         uuid.UUID
	generation uint64
	stop       atomic.Bool
}

// Dispatcher runs at most one live job for its owner. Dispatching a new job
// supersedes the previous one: the old job is told to stop and its result,
// should it still complete, is never delivered.
//
// All methods must be called from the orchestrating goroutine.
type Dispatcher[T any] struct {
	pool       *Pool
	name       string
	logger     *zap.Logger
	generation uint64
	current    *handle
	onProgress func(float64)
}

// NewDispatcher creates a dispatcher submitting to pool. name identifies the
// owner in logs.
func NewDispatcher[T any](pool *Pool, name string) *Dispatcher[T] {
	return &Dispatcher[T]{
		pool:   pool,
		name:   name,
		logger: pool.logger.With(zap.String("processor", name)),
	}
}

// OnProgress sets the callback receiving the progress of the current job
func (d *Dispatcher[T]) OnProgress(fn func(float64)) {
	d.onProgress = fn
}

// Busy reports whether a job has been dispatched and not yet delivered
func (d *Dispatcher[T]) Busy() bool {
	return d.current != nil
}

// Generation returns the number of jobs dispatched or canceled so far
func (d *Dispatcher[T]) Generation() uint64 {
	return d.generation
}

// Cancel stops the current job without starting another
func (d *Dispatcher[T]) Cancel() {
	if d.current != nil {
		d.current.stop.Store(true)
		d.current = nil
	}
	d.generation++
}

// DispatchOne supersedes any running job and submits job. done receives the
// result on the orchestrating goroutine, during Pool.Drain, and only if no
// later job has been dispatched by then. Jobs that fail or panic deliver nothing.
func (d *Dispatcher[T]) DispatchOne(job Job[T], done func(T)) error {
	d.Cancel()
	h := &handle{id: uuid.New(), generation: d.generation}
	log := d.logger.With(zap.String("job", h.id.String()), zap.Uint64("generation", h.generation))

	err := d.pool.submit(func() {
		result, err := run(h, job, d.pool, d.progress(h))
		d.pool.post(func() {
			if d.current != h {
				log.Debug("discarding superseded result")
				return
			}
			d.current = nil
			switch {
			case err != nil && h.stop.Load():
				log.Debug("job stopped", zap.Error(err))
			case err != nil:
				log.Error("job failed", zap.Error(err))
			default:
				done(result)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", d.name, err)
	}
	d.current = h
	log.Debug("job dispatched")
	return nil
}

// progress returns the progress callback handed to the job of h
func (d *Dispatcher[T]) progress(h *handle) func(float64) {
	return func(f float64) {
		d.pool.post(func() {
			if d.current == h && d.onProgress != nil {
				d.onProgress(f)
			}
		})
	}
}

// run executes job on a worker, turning a panic into an error
func run[T any](h *handle, job Job[T], pool *Pool, progress func(float64)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			pool.logger.Error("job panicked",
				zap.String("job", h.id.String()), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(h.stop.Load, progress)
}
