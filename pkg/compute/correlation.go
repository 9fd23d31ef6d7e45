package compute

import (
	"fmt"
	"math"

	"neurostats/internal/models"
	"neurostats/pkg/brushing"
	"neurostats/pkg/coords"
	"neurostats/pkg/stats"
)

// ParameterCorrelationInput correlates one table column with every voxel
type ParameterCorrelationInput struct {
	// Volumes holds one volume per table row
	Volumes models.Sequence
	Table   *models.SampleTable

	// Columns is the column selection. Its first index is the parameter that
	// is correlated. An empty selection performs no computation and yields an
	// all-zero volume.
	Columns brushing.IndexSet

	// Filtered rows are left out of every voxel's correlation
	Filtered brushing.IndexSet

	// Mask optionally restricts the sweep to labelled voxels. It may use a
	// different grid than Volumes; positions are matched through world space.
	Mask *models.Volume

	// MaskLabels lists the mask labels that qualify. When nil, any non-zero
	// label qualifies.
	MaskLabels *brushing.IndexSet

	Method stats.CorrelationMethod
	Tail   stats.TailTest
	PValue float64
}

// ParameterCorrelationVolume correlates the selected parameter with the voxel
// values of every subject. A voxel holds r when p < PValue, and 0 when r is not
// significant, when fewer than two subjects remain after removing filtered rows
// and missing values, or when the voxel lies outside the mask. The output data
// map is [-1, 1].
func ParameterCorrelationVolume(in ParameterCorrelationInput, stop StopFunc, progress ProgressFunc, opts Options) (*models.Volume, error) {
	if err := checkPValue(in.PValue); err != nil {
		return nil, err
	}
	dims, err := in.Volumes.CommonDims()
	if err != nil {
		return nil, fmt.Errorf("parameter correlation: %w", err)
	}
	if err := checkTable(in.Table, len(in.Volumes)); err != nil {
		return nil, fmt.Errorf("parameter correlation: %w", err)
	}

	var column models.Column
	if col, ok := in.Columns.First(); ok {
		if col >= in.Table.NumColumns() {
			return nil, fmt.Errorf("column %d of %d: %w", col, in.Table.NumColumns(), models.ErrMissingColumn)
		}
		if column = in.Table.ColumnAt(col); !column.Numeric() {
			return nil, fmt.Errorf("column %q is not numeric: %w", column.Name(), models.ErrMissingColumn)
		}
	}

	var mapper *coords.Mapper
	if in.Mask != nil {
		if mapper, err = coords.ForVolumes(in.Volumes[0], in.Mask); err != nil {
			return nil, fmt.Errorf("parameter correlation mask: %w", err)
		}
	}

	out := outputVolume("correlation", in.Volumes[0])
	out.DataMap = models.IdentityDataMap(-1, 1)

	if column == nil {
		if progress != nil {
			progress(0)
			progress(1)
		}
		return out, nil
	}

	// subjects that are neither filtered nor missing the parameter
	var subjects []int
	var params []float64
	for row := 0; row < in.Table.Rows(); row++ {
		v := column.Float(row)
		if in.Filtered.Contains(row) || math.IsNaN(v) {
			continue
		}
		subjects = append(subjects, row)
		params = append(params, v)
	}

	values := in.Volumes.Values()
	data := out.Floats()

	inMask := func(i int) bool {
		if mapper == nil {
			return true
		}
		j, ok := mapper.Map(i)
		if !ok {
			return false
		}
		label := int(in.Mask.ValueAt(j))
		if in.MaskLabels == nil {
			return label != 0
		}
		return in.MaskLabels.Contains(label)
	}

	err = sweep(dims.Voxels(), stop, progress, opts, func() func(int) {
		p := make([]float64, 0, len(subjects))
		v := make([]float64, 0, len(subjects))
		return func(i int) {
			if !inMask(i) {
				return
			}
			p, v = p[:0], v[:0]
			for k, s := range subjects {
				x := values[s][i]
				if math.IsNaN(x) {
					continue
				}
				p = append(p, params[k])
				v = append(v, x)
			}
			if len(p) < 2 {
				return
			}
			r, pv, err := stats.CorrTest(p, v, in.Method, in.Tail)
			if err == nil && pv < in.PValue && isFinite(r) {
				data[i] = r
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
