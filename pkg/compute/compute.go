// Package compute implements the voxelwise statistical sweeps: for every voxel
// of a grid, gather one value per subject, test them, and write the statistic
// into an output volume when it is significant.
//
// Every sweep takes a StopFunc that is polled once per voxel and a
// ProgressFunc. A sweep that sees stop return true abandons its result and
// returns ErrCanceled.
package compute

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"neurostats/internal/models"
)

var (
	// ErrCanceled is returned by a sweep that was stopped before completion
	ErrCanceled = errors.New("computation canceled")

	// ErrInvalidPValue is returned for a significance threshold outside (0, 0.5]
	ErrInvalidPValue = errors.New("p-value threshold must be in (0, 0.5]")
)

// StopFunc reports whether the running computation should be abandoned
type StopFunc func() bool

// ProgressFunc receives the completed fraction of a computation, in [0, 1]
type ProgressFunc func(fraction float64)

// DefaultProgressInterval is the minimum time between two progress reports
const DefaultProgressInterval = 200 * time.Millisecond

// progressStride is how many voxels a worker completes between clock checks
const progressStride = 256

// Options controls how a sweep is executed
type Options struct {
	// Workers is the number of goroutines sharing the voxel range.
	// Zero uses one per CPU.
	Workers int

	// ProgressInterval is the minimum time between progress reports.
	// Zero uses DefaultProgressInterval.
	ProgressInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	return o
}

func checkPValue(p float64) error {
	if !(p > 0 && p <= 0.5) {
		return fmt.Errorf("%v: %w", p, ErrInvalidPValue)
	}
	return nil
}

// reporter forwards progress at most once per interval. It is shared by all
// workers of a sweep.
type reporter struct {
	mu       sync.Mutex
	progress ProgressFunc
	interval time.Duration
	last     time.Time
	total    int
}

func newReporter(progress ProgressFunc, interval time.Duration, total int) *reporter {
	return &reporter{progress: progress, interval: interval, total: total}
}

func (r *reporter) report(fraction float64) {
	if r.progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = time.Now()
	r.progress(fraction)
}

// advance is called with the number of voxels completed so far
func (r *reporter) advance(done int64) {
	if r.progress == nil || done%progressStride != 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.last) < r.interval {
		return
	}
	r.last = time.Now()
	r.progress(float64(done) / float64(r.total))
}

// sweep runs a per-voxel function over [0, n) on opts.Workers goroutines, each
// owning a contiguous chunk of the range. newWorker is called once per
// goroutine so that workers can keep their own scratch buffers.
//
// Progress is reported at 0 before any work and at 1 when the sweep returns,
// whether it completed or was stopped.
func sweep(n int, stop StopFunc, progress ProgressFunc, opts Options, newWorker func() func(i int)) error {
	opts = opts.withDefaults()
	rep := newReporter(progress, opts.ProgressInterval, n)
	rep.report(0)
	defer rep.report(1)

	if stop == nil {
		stop = func() bool { return false }
	}

	numWorkers := opts.Workers
	if numWorkers > n {
		numWorkers = n
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	voxelsPerWorker := (n + numWorkers - 1) / numWorkers

	var (
		wg       sync.WaitGroup
		done     atomic.Int64
		canceled atomic.Bool
	)
	for w := 0; w < numWorkers; w++ {
		start := w * voxelsPerWorker
		end := start + voxelsPerWorker
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn := newWorker()
			for i := start; i < end; i++ {
				if canceled.Load() {
					return
				}
				if stop() {
					canceled.Store(true)
					return
				}
				fn(i)
				rep.advance(done.Add(1))
			}
		}(start, end)
	}
	wg.Wait()

	if canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// isFinite reports whether v is neither NaN nor infinite
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// observedRange returns a data map spanning the values of data. A constant
// volume gets a range whose upper bound is the next float above the value, so
// that the range is never empty.
func observedRange(data []float64) models.DataMap {
	if len(data) == 0 {
		return models.IdentityDataMap(0, math.Nextafter(0, math.Inf(1)))
	}
	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		hi = math.Nextafter(hi, math.Inf(1))
	}
	return models.IdentityDataMap(lo, hi)
}

// outputVolume allocates a float64 result on the grid of reference
func outputVolume(id string, reference *models.Volume) *models.Volume {
	out := models.NewFloatVolume(reference.Dims)
	out.ID = id
	out.IndexToWorld = reference.IndexToWorld
	return out
}

// checkTable verifies that table has one row per volume
func checkTable(table *models.SampleTable, volumes int) error {
	if table == nil {
		return fmt.Errorf("no sample table: %w", models.ErrMissingColumn)
	}
	if table.Rows() != volumes {
		return fmt.Errorf("table has %d rows for %d volumes: %w",
			table.Rows(), volumes, models.ErrSizeMismatch)
	}
	return nil
}
