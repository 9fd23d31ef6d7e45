// Package pipeline orchestrates the statistical processors. A Network owns the
// brushing state and the worker pool; it decides which processors need to
// recompute, and delivers their results on the goroutine that runs it.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"neurostats/pkg/brushing"
	"neurostats/pkg/compute"
	"neurostats/pkg/dispatch"
	"neurostats/pkg/stats"
)

// Parameters are the user-configured scalars shared by the processors
type Parameters struct {
	PValue        float64
	Tail          stats.TailTest
	Method        stats.CorrelationMethod
	EqualVariance stats.EqualVariance
}

// DefaultParameters returns a two-tailed Pearson analysis at p < 0.05
func DefaultParameters() Parameters {
	return Parameters{PValue: 0.05, Tail: stats.TwoTailed, Method: stats.Pearson}
}

// Processor is a node of the network that turns inputs into a result
type Processor interface {
	// Name identifies the processor in logs
	Name() string

	// Stale reports whether the inputs changed since the last submission
	Stale() bool

	// Brushed reports whether the result depends on brushing state
	Brushed() bool

	// Submit snapshots the inputs and brushing state and starts a job
	Submit(b *brushing.Manager) error

	// Busy reports whether a job is in flight
	Busy() bool
}

// Network connects processors to brushing events and a worker pool.
// Apply, Process, Run and the processors' setters must all be called from the
// same goroutine.
type Network struct {
	pool       *dispatch.Pool
	brushing   *brushing.Manager
	logger     *zap.Logger
	opts       compute.Options
	processors []Processor
}

// NewNetwork creates a network whose jobs run on pool, each sweep using opts
func NewNetwork(pool *dispatch.Pool, opts compute.Options, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Network{
		pool:     pool,
		brushing: brushing.NewManager(),
		logger:   logger,
		opts:     opts,
	}
}

// Brushing returns the brushing state owned by the network
func (n *Network) Brushing() *brushing.Manager { return n.brushing }

// Add registers a processor
func (n *Network) Add(p Processor) {
	n.processors = append(n.processors, p)
}

// Apply applies a brushing event. Processors pick it up on the next Process.
func (n *Network) Apply(e brushing.Event) error {
	if err := n.brushing.Apply(e); err != nil {
		return fmt.Errorf("brushing event from %q: %w", e.Source, err)
	}
	n.logger.Debug("brushing event",
		zap.Stringer("target", e.Target), zap.Stringer("action", e.Action),
		zap.String("source", e.Source), zap.Int("indices", len(e.Indices)))
	return nil
}

// Process submits every processor whose inputs changed, and every brushed
// processor when the brushing state changed. A processor that fails to submit
// stays stale and the others still run; the failures are returned together.
// The brushing state is marked clean once all affected processors were tried.
func (n *Network) Process() error {
	brushed := n.brushing.Dirty()
	var errs error
	for _, p := range n.processors {
		if !p.Stale() && !(brushed && p.Brushed()) {
			continue
		}
		if err := p.Submit(n.brushing); err != nil {
			n.logger.Warn("processor failed to submit", zap.String("processor", p.Name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("processor %s: %w", p.Name(), err))
		}
	}
	if brushed {
		n.brushing.MarkClean()
	}
	return errs
}

// Run is the orchestrator loop. It processes the initial state, then applies
// brushing events as they arrive and delivers completed results, until ctx is
// done. A closed events channel only stops event handling. Processor
// failures are logged by Process and never stop the loop.
func (n *Network) Run(ctx context.Context, events <-chan brushing.Event) error {
	_ = n.Process()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := n.Apply(e); err != nil {
				n.logger.Warn("ignoring brushing event", zap.Error(err))
				continue
			}
			_ = n.Process()
		case <-n.pool.Notify():
			n.pool.Drain()
		}
	}
}

// Settle waits for every in-flight job and delivers the results
func (n *Network) Settle() {
	for {
		n.pool.Wait()
		if n.pool.Drain() == 0 && !n.busy() {
			return
		}
	}
}

func (n *Network) busy() bool {
	for _, p := range n.processors {
		if p.Busy() {
			return true
		}
	}
	return false
}
