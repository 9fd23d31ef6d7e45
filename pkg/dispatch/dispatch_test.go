package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// returning builds a job that returns v without looking at stop
func returning(v int) Job[int] {
	return func(func() bool, func(float64)) (int, error) { return v, nil }
}

// blockUntil builds a job that returns v once release is closed
func blockUntil(release <-chan struct{}, v int) Job[int] {
	return func(func() bool, func(float64)) (int, error) {
		<-release
		return v, nil
	}
}

func TestCompletionRunsOnlyInDrain(t *testing.T) {
	pool := NewPool(2, zap.NewNop())
	d := NewDispatcher[int](pool, "test")

	var got []int
	require.NoError(t, d.DispatchOne(returning(7), func(v int) { got = append(got, v) }))
	assert.True(t, d.Busy())

	pool.Wait()
	assert.Empty(t, got, "nothing is delivered before Drain")

	assert.Equal(t, 1, pool.Drain())
	assert.Equal(t, []int{7}, got)
	assert.False(t, d.Busy())
}

func TestLatestWins(t *testing.T) {
	pool := NewPool(4, zap.NewNop())
	d := NewDispatcher[int](pool, "test")

	release := make(chan struct{})
	var got []int
	deliver := func(v int) { got = append(got, v) }

	require.NoError(t, d.DispatchOne(blockUntil(release, 1), deliver))
	require.NoError(t, d.DispatchOne(returning(2), deliver))
	// the first job ignores stop and completes last, with a result
	close(release)

	pool.Wait()
	pool.Drain()
	assert.Equal(t, []int{2}, got)
}

func TestSupersededJobIsStopped(t *testing.T) {
	pool := NewPool(2, zap.NewNop())
	d := NewDispatcher[int](pool, "test")

	started := make(chan struct{})
	var sawStop atomic.Bool
	first := func(stop func() bool, _ func(float64)) (int, error) {
		close(started)
		for !stop() {
			time.Sleep(time.Millisecond)
		}
		sawStop.Store(true)
		return 0, errors.New("stopped")
	}

	var got []int
	require.NoError(t, d.DispatchOne(first, func(v int) { got = append(got, v) }))
	<-started
	require.NoError(t, d.DispatchOne(returning(3), func(v int) { got = append(got, v) }))

	pool.Wait()
	pool.Drain()
	assert.True(t, sawStop.Load())
	assert.Equal(t, []int{3}, got)
}

func TestCancelNeverDelivers(t *testing.T) {
	pool := NewPool(1, zap.NewNop())
	d := NewDispatcher[int](pool, "test")

	delivered := false
	require.NoError(t, d.DispatchOne(returning(1), func(int) { delivered = true }))
	d.Cancel()
	assert.False(t, d.Busy())

	pool.Wait()
	pool.Drain()
	assert.False(t, delivered)
}

func TestFailuresDeliverNothing(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	pool := NewPool(1, zap.New(core))
	d := NewDispatcher[int](pool, "ttest")

	delivered := 0
	deliver := func(int) { delivered++ }

	require.NoError(t, d.DispatchOne(func(func() bool, func(float64)) (int, error) {
		panic("index out of range")
	}, deliver))
	pool.Wait()
	pool.Drain()
	assert.Zero(t, delivered)
	assert.False(t, d.Busy())
	assert.Equal(t, 1, logs.FilterMessage("job panicked").Len())

	require.NoError(t, d.DispatchOne(func(func() bool, func(float64)) (int, error) {
		return 0, errors.New("bad input")
	}, deliver))
	pool.Wait()
	pool.Drain()
	assert.Zero(t, delivered)
	failed := logs.FilterMessage("job failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, "ttest", failed[1].ContextMap()["processor"])

	// the dispatcher keeps working after failures
	require.NoError(t, d.DispatchOne(returning(5), deliver))
	pool.Wait()
	pool.Drain()
	assert.Equal(t, 1, delivered)
}

func TestProgressOnlyFromCurrentJob(t *testing.T) {
	pool := NewPool(2, zap.NewNop())
	d := NewDispatcher[int](pool, "test")

	var reports []float64
	d.OnProgress(func(f float64) { reports = append(reports, f) })

	require.NoError(t, d.DispatchOne(func(_ func() bool, progress func(float64)) (int, error) {
		progress(0)
		progress(0.5)
		progress(1)
		return 1, nil
	}, func(int) {}))
	pool.Wait()
	pool.Drain()
	assert.Equal(t, []float64{0, 0.5, 1}, reports)

	reports = nil
	release := make(chan struct{})
	require.NoError(t, d.DispatchOne(func(_ func() bool, progress func(float64)) (int, error) {
		<-release
		progress(0.9)
		return 2, nil
	}, func(int) {}))
	d.Cancel()
	close(release)
	pool.Wait()
	pool.Drain()
	assert.Empty(t, reports)
}

func TestPoolIsBounded(t *testing.T) {
	pool := NewPool(2, zap.NewNop())
	var running, peak atomic.Int32

	job := func(func() bool, func(float64)) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	}

	for i := 0; i < 8; i++ {
		d := NewDispatcher[int](pool, "test")
		require.NoError(t, d.DispatchOne(job, func(int) {}))
	}
	pool.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 8, pool.Drain())
}

func TestRunDrainsUntilCanceled(t *testing.T) {
	pool := NewPool(1, zap.NewNop())
	d := NewDispatcher[int](pool, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got int
	require.NoError(t, d.DispatchOne(returning(9), func(v int) {
		got = v
		cancel()
	}))
	err := pool.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 9, got)
}

func TestClosedPoolRejectsJobs(t *testing.T) {
	pool := NewPool(1, zap.NewNop())
	pool.Close()

	d := NewDispatcher[int](pool, "test")
	err := d.DispatchOne(returning(1), func(int) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, d.Busy())
}
