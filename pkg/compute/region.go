package compute

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"

	"github.com/gocarina/gocsv"
	mstats "github.com/montanaflynn/stats"

	"neurostats/internal/models"
	"neurostats/pkg/brushing"
	"neurostats/pkg/coords"
	"neurostats/pkg/stats"
)

// RegionCorrelationInput correlates every numeric table column with the voxels
// of the selected atlas regions
type RegionCorrelationInput struct {
	// Volumes holds one volume per table row
	Volumes models.Sequence
	Table   *models.SampleTable

	// Filtered rows are left out of every correlation
	Filtered brushing.IndexSet

	// Atlas is a labelled volume, possibly on a different grid than Volumes
	Atlas *models.Volume

	// Regions are the atlas labels to include. An empty selection means no
	// voxel qualifies and every summary is NaN.
	Regions brushing.IndexSet

	Method stats.CorrelationMethod
	Tail   stats.TailTest
	PValue float64
}

// RegionCorrelation summarises the significant voxel correlations of one parameter
type RegionCorrelation struct {
	Parameter     string  `csv:"Parameter"`
	Median        float64 `csv:"Median_correlation"`
	Max           float64 `csv:"Max_correlation"`
	Min           float64 `csv:"Min_correlation"`
	FirstQuartile float64 `csv:"First_quartile"`
	ThirdQuartile float64 `csv:"Third_quartile"`
	Count         int     `csv:"Significant_voxels"`
}

// RegionSummary holds one row per numeric table column
type RegionSummary struct {
	Rows []RegionCorrelation
}

// Row returns the summary of the named parameter
func (s *RegionSummary) Row(parameter string) (RegionCorrelation, bool) {
	for _, r := range s.Rows {
		if r.Parameter == parameter {
			return r, true
		}
	}
	return RegionCorrelation{}, false
}

// WriteCSV writes the summary with a header row
func (s *RegionSummary) WriteCSV(w io.Writer) error {
	if err := gocsv.Marshal(&s.Rows, w); err != nil {
		return fmt.Errorf("failed to write region summary: %w", err)
	}
	return nil
}

// RegionParameterCorrelation correlates each numeric parameter with every
// voxel inside the selected atlas regions and summarises the significant
// (p < PValue) correlations by median, extremes and quartiles. A parameter
// without significant voxels has NaN summaries and a zero count.
func RegionParameterCorrelation(in RegionCorrelationInput, stop StopFunc, progress ProgressFunc, opts Options) (*RegionSummary, error) {
	if err := checkPValue(in.PValue); err != nil {
		return nil, err
	}
	dims, err := in.Volumes.CommonDims()
	if err != nil {
		return nil, fmt.Errorf("region correlation: %w", err)
	}
	if err := checkTable(in.Table, len(in.Volumes)); err != nil {
		return nil, fmt.Errorf("region correlation: %w", err)
	}
	if in.Atlas == nil {
		return nil, errors.New("region correlation needs an atlas volume")
	}
	mapper, err := coords.ForVolumes(in.Volumes[0], in.Atlas)
	if err != nil {
		return nil, fmt.Errorf("region correlation atlas: %w", err)
	}

	type parameter struct {
		name     string
		subjects []int
		values   []float64
	}
	var params []parameter
	for c := 0; c < in.Table.NumColumns(); c++ {
		col := in.Table.ColumnAt(c)
		if !col.Numeric() {
			continue
		}
		p := parameter{name: col.Name()}
		for row := 0; row < in.Table.Rows(); row++ {
			v := col.Float(row)
			if in.Filtered.Contains(row) || math.IsNaN(v) {
				continue
			}
			p.subjects = append(p.subjects, row)
			p.values = append(p.values, v)
		}
		params = append(params, p)
	}

	// each worker keeps the significant r of every parameter it visits
	var (
		mu        sync.Mutex
		collected [][][]float64
	)
	n := dims.Voxels()
	if !in.Regions.Empty() {
		values := in.Volumes.Values()
		err = sweep(n, stop, progress, opts, func() func(int) {
			significant := make([][]float64, len(params))
			mu.Lock()
			collected = append(collected, significant)
			mu.Unlock()

			p := make([]float64, 0, len(in.Volumes))
			v := make([]float64, 0, len(in.Volumes))
			return func(i int) {
				j, ok := mapper.Map(i)
				if !ok || !in.Regions.Contains(int(in.Atlas.ValueAt(j))) {
					return
				}
				for k, param := range params {
					p, v = p[:0], v[:0]
					for m, s := range param.subjects {
						x := values[s][i]
						if math.IsNaN(x) {
							continue
						}
						p = append(p, param.values[m])
						v = append(v, x)
					}
					if len(p) < 2 {
						continue
					}
					r, pv, err := stats.CorrTest(p, v, in.Method, in.Tail)
					if err == nil && pv < in.PValue && isFinite(r) {
						significant[k] = append(significant[k], r)
					}
				}
			}
		})
		if err != nil {
			return nil, err
		}
	} else if progress != nil {
		progress(0)
		progress(1)
	}

	summary := &RegionSummary{Rows: make([]RegionCorrelation, len(params))}
	for k, param := range params {
		var rs []float64
		for _, significant := range collected {
			rs = append(rs, significant[k]...)
		}
		summary.Rows[k] = summarise(param.name, rs)
	}
	return summary, nil
}

// summarise reduces significant correlations to their median and extremes.
// The quartiles are the sorted values at ranks floor(n/4) and floor(3n/4).
func summarise(name string, rs []float64) RegionCorrelation {
	row := RegionCorrelation{Parameter: name, Count: len(rs)}
	if len(rs) == 0 {
		nan := math.NaN()
		row.Median, row.Max, row.Min, row.FirstQuartile, row.ThirdQuartile = nan, nan, nan, nan, nan
		return row
	}

	data := mstats.Float64Data(rs)
	row.Median, _ = mstats.Median(data)
	row.Max, _ = mstats.Max(data)
	row.Min, _ = mstats.Min(data)

	sorted := slices.Clone(rs)
	slices.Sort(sorted)
	row.FirstQuartile = sorted[len(sorted)/4]
	row.ThirdQuartile = sorted[len(sorted)*3/4]
	return row
}
