package pipeline

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"neurostats/internal/models"
	"neurostats/pkg/atlas"
	"neurostats/pkg/brushing"
	"neurostats/pkg/compute"
	"neurostats/pkg/dispatch"
)

var ages = []float64{1, 2, 3, 4, 5, 6}

func newNetwork() *Network {
	return NewNetwork(dispatch.NewPool(2, zap.NewNop()), compute.Options{Workers: 1}, zap.NewNop())
}

// cohortOf builds 2x1x1 volumes named s0..sN with the given voxel values
func cohortOf(first, second []float64) models.Sequence {
	dims := models.Dims{X: 2, Y: 1, Z: 1}
	seq := make(models.Sequence, len(first))
	for k := range first {
		vol := models.NewFloatVolume(dims)
		vol.ID = fmt.Sprintf("s%d", k)
		vol.Floats()[0] = first[k]
		vol.Floats()[1] = second[k]
		seq[k] = vol
	}
	return seq
}

func subjects(t *testing.T, n int, groups ...string) *models.SampleTable {
	t.Helper()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("s%d", i)
	}
	table := models.NewSampleTable()
	require.NoError(t, table.AddCategorical("filename", names))
	if len(groups) > 0 {
		require.NoError(t, table.AddCategorical("group", groups))
	}
	require.NoError(t, table.AddNumeric("age", ages[:n]))
	require.NoError(t, table.AddNumeric("noise", []float64{2, 1, 2, 1, 2, 1}[:n]))
	return table
}

func filterRows(rows ...int) brushing.Event {
	return brushing.Event{Target: brushing.Rows, Action: brushing.Filter, Source: "table", Indices: rows}
}

func TestTTestProcessorFollowsRowFilter(t *testing.T) {
	net := newNetwork()
	p := NewTTestProcessor(net, "ttest")

	// s3 is an outlier in group a that hides the group difference
	volumes := cohortOf([]float64{1, 2, 3, 30, 6, 7, 8}, []float64{5, 5, 5, 5, 5, 5, 5})
	table := models.NewSampleTable()
	require.NoError(t, table.AddCategorical("filename", []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6"}))
	require.NoError(t, table.AddCategorical("group", []string{"a", "a", "a", "a", "b", "b", "b"}))
	p.SetCohort(volumes, table, "filename")
	p.SetGroups("group", "a", "b")

	require.NoError(t, net.Process())
	assert.True(t, p.Busy())
	net.Settle()

	out := p.Output()
	require.NotNil(t, out)
	assert.Equal(t, 0.0, out.Floats()[0])
	assert.Equal(t, 0.0, out.Floats()[1])
	assert.Equal(t, 1.0, p.Progress())

	require.NoError(t, net.Apply(filterRows(3)))
	require.NoError(t, net.Process())
	assert.False(t, net.Brushing().Dirty())
	net.Settle()

	assert.InDelta(t, -5/math.Sqrt(2.0/3.0), p.Output().Floats()[0], 1e-9)
	assert.Equal(t, 0.0, p.Output().Floats()[1])
}

func TestTTestProcessorSkipsEmptyGroup(t *testing.T) {
	net := newNetwork()
	p := NewTTestProcessor(net, "ttest")
	p.SetCohort(cohortOf(ages, ages), subjects(t, 6, "a", "a", "a", "b", "b", "b"), "filename")
	p.SetGroups("group", "a", "b")

	require.NoError(t, net.Apply(filterRows(0, 1, 2)))
	require.NoError(t, net.Process())
	assert.False(t, p.Busy())
	assert.False(t, p.Stale())
	assert.Nil(t, p.Output())
}

func TestTTestProcessorMissingGroupColumn(t *testing.T) {
	net := newNetwork()
	p := NewTTestProcessor(net, "ttest")
	p.SetCohort(cohortOf(ages, ages), subjects(t, 6), "filename")
	p.SetGroups("diagnosis", "a", "b")

	err := net.Process()
	assert.ErrorIs(t, err, models.ErrMissingColumn)
}

func TestProcessContinuesPastFailingProcessor(t *testing.T) {
	net := newNetwork()
	bad := NewTTestProcessor(net, "ttest")
	bad.SetCohort(cohortOf(ages, ages), subjects(t, 6), "filename")
	bad.SetGroups("diagnosis", "a", "b")
	mean := NewMeanProcessor(net, "mean")
	mean.SetVolumes(cohortOf([]float64{1, 2, 3}, []float64{0, 0, 6}), nil, "")

	err := net.Process()
	assert.ErrorIs(t, err, models.ErrMissingColumn)
	net.Settle()

	require.NotNil(t, mean.Output())
	assert.Equal(t, []float64{2, 2}, mean.Output().Floats())
	assert.False(t, mean.Stale())
	assert.True(t, bad.Stale())
	assert.Nil(t, bad.Output())
}

func TestRunSurvivesFailingProcessor(t *testing.T) {
	net := newNetwork()
	bad := NewTTestProcessor(net, "ttest")
	bad.SetCohort(cohortOf(ages, ages), subjects(t, 6), "filename")
	bad.SetGroups("diagnosis", "a", "b")
	p := NewCorrelationProcessor(net, "correlation")
	p.SetCohort(cohortOf(ages, ages), subjects(t, 6))

	results := make(chan *models.Volume, 4)
	p.OnResult(func(v *models.Volume) { results <- v })

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan brushing.Event)
	done := make(chan error, 1)
	go func() { done <- net.Run(ctx, events) }()

	receive := func() *models.Volume {
		select {
		case v := <-results:
			return v
		case err := <-done:
			t.Fatalf("run stopped: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("no result delivered")
		}
		return nil
	}

	assert.Equal(t, []float64{0, 0}, receive().Floats())
	events <- brushing.Event{Target: brushing.Columns, Action: brushing.Select, Indices: []int{1}}
	assert.InDelta(t, 1.0, receive().Floats()[0], 1e-12)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCorrelationProcessorFollowsColumnSelection(t *testing.T) {
	net := newNetwork()
	p := NewCorrelationProcessor(net, "correlation")
	p.SetCohort(cohortOf(ages, []float64{6, 5, 4, 3, 2, 1}), subjects(t, 6))

	require.NoError(t, net.Process())
	net.Settle()
	require.NotNil(t, p.Output())
	assert.Equal(t, []float64{0, 0}, p.Output().Floats(), "no column selected")

	state := net.Brushing()
	require.NoError(t, net.Apply(brushing.Event{Target: brushing.Columns, Action: brushing.Select, Indices: []int{1}}))
	assert.True(t, state.Dirty())
	require.NoError(t, net.Process())
	net.Settle()

	assert.InDelta(t, 1.0, p.Output().Floats()[0], 1e-12)
	assert.InDelta(t, -1.0, p.Output().Floats()[1], 1e-12)
	assert.Equal(t, models.IdentityDataMap(-1, 1), p.Output().DataMap)
}

func TestCorrelationProcessorMaskByRegionSelection(t *testing.T) {
	net := newNetwork()
	p := NewCorrelationProcessor(net, "correlation")
	p.SetCohort(cohortOf(ages, ages), subjects(t, 6))
	mask, err := models.NewVolume(models.Dims{X: 2, Y: 1, Z: 1}, models.Buffer[uint8]{1, 2})
	require.NoError(t, err)
	p.SetMask(mask, true)

	require.NoError(t, net.Apply(brushing.Event{Target: brushing.Columns, Action: brushing.Select, Indices: []int{1}}))
	require.NoError(t, net.Apply(brushing.Event{Target: brushing.Regions, Action: brushing.Toggle, Indices: []int{2}}))
	require.NoError(t, net.Process())
	net.Settle()

	out := p.Output().Floats()
	assert.Equal(t, 0.0, out[0])
	assert.InDelta(t, 1.0, out[1], 1e-12)
}

func TestRegionCorrelationProcessor(t *testing.T) {
	net := newNetwork()
	p := NewRegionCorrelationProcessor(net, "regions")
	p.SetCohort(cohortOf(ages, []float64{6, 5, 4, 3, 2, 1}), subjects(t, 6))

	labels, err := models.NewVolume(models.Dims{X: 2, Y: 1, Z: 1}, models.Buffer[uint8]{1, 2})
	require.NoError(t, err)
	names := models.NewSampleTable()
	require.NoError(t, names.AddNumeric("Index", []float64{1, 2}))
	require.NoError(t, names.AddCategorical("Region", []string{"left", "right"}))
	a, err := atlas.New(labels, names)
	require.NoError(t, err)
	p.SetAtlas(a)

	var delivered []*compute.RegionSummary
	p.OnResult(func(s *compute.RegionSummary) { delivered = append(delivered, s) })

	require.NoError(t, net.Apply(brushing.Event{Target: brushing.Regions, Action: brushing.Select, Indices: []int{a.LabelID("right")}}))
	require.NoError(t, net.Process())
	net.Settle()

	require.Len(t, delivered, 1)
	row, ok := p.Output().Row("age")
	require.True(t, ok)
	assert.InDelta(t, -1.0, row.Median, 1e-12)
	assert.Equal(t, 1, row.Count)
	noise, ok := p.Output().Row("noise")
	require.True(t, ok)
	assert.Equal(t, 0, noise.Count)
	assert.True(t, math.IsNaN(noise.Median))
}

func TestMeanProcessor(t *testing.T) {
	net := newNetwork()
	p := NewMeanProcessor(net, "mean")
	p.SetVolumes(cohortOf([]float64{1, 2, 3}, []float64{0, 0, 6}), nil, "")
	assert.False(t, p.Brushed())

	require.NoError(t, net.Process())
	net.Settle()
	assert.Equal(t, []float64{2, 2}, p.Output().Floats())

	// without a table the mean ignores brushing
	require.NoError(t, net.Apply(filterRows(2)))
	require.NoError(t, net.Process())
	assert.False(t, p.Busy())

	p.SetVolumes(cohortOf([]float64{1, 2, 3}, []float64{0, 0, 6}), subjects(t, 3), "filename")
	assert.True(t, p.Brushed())
	require.NoError(t, net.Process())
	net.Settle()
	assert.Equal(t, []float64{1.5, 0}, p.Output().Floats())
}

func TestApplyRejectsUnsupportedEvent(t *testing.T) {
	net := newNetwork()
	err := net.Apply(brushing.Event{Target: brushing.Columns, Action: brushing.Filter, Source: "plot"})
	assert.ErrorIs(t, err, brushing.ErrUnsupportedEvent)
	assert.False(t, net.Brushing().Dirty())
}

func TestProcessSkipsUpToDateProcessors(t *testing.T) {
	net := newNetwork()
	p := NewMeanProcessor(net, "mean")
	p.SetVolumes(cohortOf(ages, ages), nil, "")
	require.NoError(t, net.Process())
	net.Settle()
	generation := p.dispatcher.Generation()

	require.NoError(t, net.Process())
	assert.Equal(t, generation, p.dispatcher.Generation())
}

func TestRunDeliversResultsForEvents(t *testing.T) {
	net := newNetwork()
	p := NewCorrelationProcessor(net, "correlation")
	p.SetCohort(cohortOf(ages, ages), subjects(t, 6))

	results := make(chan *models.Volume, 4)
	p.OnResult(func(v *models.Volume) { results <- v })

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan brushing.Event)
	done := make(chan error, 1)
	go func() { done <- net.Run(ctx, events) }()

	receive := func() *models.Volume {
		select {
		case v := <-results:
			return v
		case <-time.After(5 * time.Second):
			t.Fatal("no result delivered")
			return nil
		}
	}

	assert.Equal(t, []float64{0, 0}, receive().Floats())
	events <- brushing.Event{Target: brushing.Columns, Action: brushing.Select, Indices: []int{1}}
	out := receive().Floats()
	assert.InDelta(t, 1.0, out[0], 1e-12)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
