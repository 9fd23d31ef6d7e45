package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"neurostats/internal/models"
	"neurostats/pkg/atlas"
	"neurostats/pkg/brushing"
	"neurostats/pkg/compute"
	"neurostats/pkg/dispatch"
)

// node holds the dispatch state every processor shares: a latest-wins
// dispatcher, the last delivered result and the progress of the running job.
type node[T any] struct {
	net        *Network
	name       string
	brushed    bool
	stale      bool
	dispatcher *dispatch.Dispatcher[T]
	output     T
	progress   float64
	listeners  []func(T)
}

func (b *node[T]) init(n *Network, name string, brushed bool) {
	b.net = n
	b.name = name
	b.brushed = brushed
	b.dispatcher = dispatch.NewDispatcher[T](n.pool, name)
	b.dispatcher.OnProgress(func(f float64) { b.progress = f })
}

func (b *node[T]) Name() string  { return b.name }
func (b *node[T]) Stale() bool   { return b.stale }
func (b *node[T]) Brushed() bool { return b.brushed }
func (b *node[T]) Busy() bool    { return b.dispatcher.Busy() }

// Output returns the last delivered result
func (b *node[T]) Output() T { return b.output }

// Progress returns the progress of the running job, or 1 once delivered
func (b *node[T]) Progress() float64 { return b.progress }

// OnResult registers a callback receiving every delivered result
func (b *node[T]) OnResult(fn func(T)) {
	b.listeners = append(b.listeners, fn)
}

// Cancel stops the running job; its result is never delivered
func (b *node[T]) Cancel() {
	b.dispatcher.Cancel()
}

func (b *node[T]) invalidate() { b.stale = true }

// skip drops the pending work when the inputs are incomplete
func (b *node[T]) skip(reason string) {
	b.stale = false
	b.dispatcher.Cancel()
	b.net.logger.Debug("processor skipped", zap.String("processor", b.name), zap.String("reason", reason))
}

func (b *node[T]) dispatch(job dispatch.Job[T]) error {
	b.stale = false
	b.progress = 0
	return b.dispatcher.DispatchOne(job, b.deliver)
}

func (b *node[T]) deliver(result T) {
	b.output = result
	b.progress = 1
	for _, fn := range b.listeners {
		fn(result)
	}
}

// cohort is a volume sequence joined to a sample table
type cohort struct {
	volumes models.Sequence
	table   *models.SampleTable
}

func (c cohort) ready() bool {
	return len(c.volumes) > 0 && c.table != nil
}

// TTestProcessor compares two groups of a cohort voxel by voxel. Group
// membership comes from a table column; filtered rows leave both groups.
type TTestProcessor struct {
	node[*models.Volume]
	cohort      cohort
	keyColumn   string
	groupColumn string
	groupA      string
	groupB      string
	params      Parameters
}

// NewTTestProcessor creates a t-test processor and adds it to n
func NewTTestProcessor(n *Network, name string) *TTestProcessor {
	p := &TTestProcessor{keyColumn: "filename", params: DefaultParameters()}
	p.init(n, name, true)
	n.Add(p)
	return p
}

// SetCohort sets the volumes and the table whose keyColumn holds their IDs
func (p *TTestProcessor) SetCohort(volumes models.Sequence, table *models.SampleTable, keyColumn string) {
	p.cohort = cohort{volumes: volumes.Clone(), table: table}
	p.keyColumn = keyColumn
	p.invalidate()
}

// SetGroups sets the column whose values a and b select the two groups
func (p *TTestProcessor) SetGroups(column, a, b string) {
	p.groupColumn, p.groupA, p.groupB = column, a, b
	p.invalidate()
}

// SetParameters sets the threshold, tail and variance assumption
func (p *TTestProcessor) SetParameters(params Parameters) {
	p.params = params
	p.invalidate()
}

// Submit splits the unfiltered volumes into the two groups and starts the test
func (p *TTestProcessor) Submit(b *brushing.Manager) error {
	if !p.cohort.ready() || p.groupColumn == "" {
		p.skip("no cohort")
		return nil
	}
	groups, ok := p.cohort.table.Column(p.groupColumn)
	if !ok {
		return fmt.Errorf("group column %q: %w", p.groupColumn, models.ErrMissingColumn)
	}
	kept, _, err := compute.FilterSequence(p.cohort.volumes, p.cohort.table, p.keyColumn,
		b.RowFilter.Snapshot(), p.net.logger)
	if err != nil {
		return err
	}
	key := keyColumn(p.cohort.table, p.keyColumn)
	group := make(map[string]string, key.Len())
	for row := 0; row < key.Len(); row++ {
		group[key.String(row)] = groups.String(row)
	}

	in := compute.TTestInput{
		PValue:        p.params.PValue,
		Tail:          p.params.Tail,
		EqualVariance: p.params.EqualVariance,
	}
	for _, v := range kept {
		switch group[v.ID] {
		case p.groupA:
			in.A = append(in.A, v)
		case p.groupB:
			in.B = append(in.B, v)
		}
	}
	if len(in.A) == 0 || len(in.B) == 0 {
		p.skip("empty group")
		return nil
	}

	opts := p.net.opts
	return p.dispatch(func(stop func() bool, progress func(float64)) (*models.Volume, error) {
		return compute.TTestVolume(in, stop, progress, opts)
	})
}

// keyColumn resolves the ID column the same way compute.FilterSequence does
func keyColumn(table *models.SampleTable, name string) models.Column {
	if c, ok := table.Column(name); ok {
		return c
	}
	return table.ColumnAt(0)
}

// CorrelationProcessor correlates the first selected column with every voxel
type CorrelationProcessor struct {
	node[*models.Volume]
	cohort    cohort
	mask      *models.Volume
	maskByROI bool
	params    Parameters
}

// NewCorrelationProcessor creates a parameter correlation processor and adds it to n
func NewCorrelationProcessor(n *Network, name string) *CorrelationProcessor {
	p := &CorrelationProcessor{params: DefaultParameters()}
	p.init(n, name, true)
	n.Add(p)
	return p
}

// SetCohort sets the volumes and their table, one row per volume
func (p *CorrelationProcessor) SetCohort(volumes models.Sequence, table *models.SampleTable) {
	p.cohort = cohort{volumes: volumes.Clone(), table: table}
	p.invalidate()
}

// SetMask restricts the sweep to the non-zero voxels of mask. When
// byRegionSelection is set, only the labels in the region selection qualify.
func (p *CorrelationProcessor) SetMask(mask *models.Volume, byRegionSelection bool) {
	p.mask = mask
	p.maskByROI = byRegionSelection
	p.invalidate()
}

// SetParameters sets the method, tail and threshold
func (p *CorrelationProcessor) SetParameters(params Parameters) {
	p.params = params
	p.invalidate()
}

// Submit snapshots the column selection and row filter and starts the sweep
func (p *CorrelationProcessor) Submit(b *brushing.Manager) error {
	if !p.cohort.ready() {
		p.skip("no cohort")
		return nil
	}
	in := compute.ParameterCorrelationInput{
		Volumes:  p.cohort.volumes.Clone(),
		Table:    p.cohort.table,
		Columns:  b.ColumnSelection.Snapshot(),
		Filtered: b.RowFilter.Snapshot(),
		Mask:     p.mask,
		Method:   p.params.Method,
		Tail:     p.params.Tail,
		PValue:   p.params.PValue,
	}
	if p.mask != nil && p.maskByROI {
		labels := b.RegionSelection.Snapshot()
		in.MaskLabels = &labels
	}

	opts := p.net.opts
	return p.dispatch(func(stop func() bool, progress func(float64)) (*models.Volume, error) {
		return compute.ParameterCorrelationVolume(in, stop, progress, opts)
	})
}

// RegionCorrelationProcessor summarises the correlation of every numeric
// column inside the selected atlas regions
type RegionCorrelationProcessor struct {
	node[*compute.RegionSummary]
	cohort cohort
	atlas  *atlas.Atlas
	params Parameters
}

// NewRegionCorrelationProcessor creates a region correlation processor and adds it to n
func NewRegionCorrelationProcessor(n *Network, name string) *RegionCorrelationProcessor {
	p := &RegionCorrelationProcessor{params: DefaultParameters()}
	p.init(n, name, true)
	n.Add(p)
	return p
}

// SetCohort sets the volumes and their table, one row per volume
func (p *RegionCorrelationProcessor) SetCohort(volumes models.Sequence, table *models.SampleTable) {
	p.cohort = cohort{volumes: volumes.Clone(), table: table}
	p.invalidate()
}

// SetAtlas sets the labelled atlas
func (p *RegionCorrelationProcessor) SetAtlas(a *atlas.Atlas) {
	p.atlas = a
	p.invalidate()
}

// SetParameters sets the method, tail and threshold
func (p *RegionCorrelationProcessor) SetParameters(params Parameters) {
	p.params = params
	p.invalidate()
}

// Submit snapshots the region selection and row filter and starts the sweep
func (p *RegionCorrelationProcessor) Submit(b *brushing.Manager) error {
	if !p.cohort.ready() || p.atlas == nil {
		p.skip("no cohort or atlas")
		return nil
	}
	in := compute.RegionCorrelationInput{
		Volumes:  p.cohort.volumes.Clone(),
		Table:    p.cohort.table,
		Filtered: b.RowFilter.Snapshot(),
		Atlas:    p.atlas.Volume(),
		Regions:  b.RegionSelection.Snapshot(),
		Method:   p.params.Method,
		Tail:     p.params.Tail,
		PValue:   p.params.PValue,
	}

	opts := p.net.opts
	return p.dispatch(func(stop func() bool, progress func(float64)) (*compute.RegionSummary, error) {
		return compute.RegionParameterCorrelation(in, stop, progress, opts)
	})
}

// MeanProcessor averages a volume sequence. With a table, filtered rows are
// left out of the mean.
type MeanProcessor struct {
	node[*models.Volume]
	cohort    cohort
	keyColumn string
}

// NewMeanProcessor creates a mean processor and adds it to n
func NewMeanProcessor(n *Network, name string) *MeanProcessor {
	p := &MeanProcessor{}
	p.init(n, name, false)
	n.Add(p)
	return p
}

// SetVolumes sets the volumes to average. table may be nil.
func (p *MeanProcessor) SetVolumes(volumes models.Sequence, table *models.SampleTable, keyColumn string) {
	p.cohort = cohort{volumes: volumes.Clone(), table: table}
	p.keyColumn = keyColumn
	p.invalidate()
}

// Brushed reports whether the mean follows the row filter
func (p *MeanProcessor) Brushed() bool { return p.cohort.table != nil }

// Submit starts the mean of the unfiltered volumes
func (p *MeanProcessor) Submit(b *brushing.Manager) error {
	if len(p.cohort.volumes) == 0 {
		p.skip("no volumes")
		return nil
	}
	volumes := p.cohort.volumes.Clone()
	if p.cohort.table != nil {
		kept, _, err := compute.FilterSequence(volumes, p.cohort.table, p.keyColumn,
			b.RowFilter.Snapshot(), p.net.logger)
		if err != nil {
			return err
		}
		volumes = kept
	}

	opts := p.net.opts
	return p.dispatch(func(stop func() bool, progress func(float64)) (*models.Volume, error) {
		return compute.SequenceMean(volumes, stop, progress, opts)
	})
}
