package compute

import (
	"fmt"

	"neurostats/internal/models"
	"neurostats/pkg/stats"
)

// TTestInput is a two-group comparison
type TTestInput struct {
	// A and B are the two groups of volumes. Every volume must share one grid.
	A, B models.Sequence

	// PValue is the significance threshold, in (0, 0.5]
	PValue float64

	Tail          stats.TailTest
	EqualVariance stats.EqualVariance
}

// TTestVolume runs a two-sample t-test at every voxel, comparing the values of
// group A with those of group B. A voxel holds t when p < PValue and t is
// finite, and 0 otherwise. The output data map spans the observed values.
func TTestVolume(in TTestInput, stop StopFunc, progress ProgressFunc, opts Options) (*models.Volume, error) {
	if err := checkPValue(in.PValue); err != nil {
		return nil, err
	}
	if len(in.A) == 0 || len(in.B) == 0 {
		return nil, fmt.Errorf("t-test needs two non-empty groups, got %d and %d volumes: %w",
			len(in.A), len(in.B), models.ErrEmptySequence)
	}
	all := make(models.Sequence, 0, len(in.A)+len(in.B))
	all = append(all, in.A...)
	all = append(all, in.B...)
	dims, err := all.CommonDims()
	if err != nil {
		return nil, fmt.Errorf("t-test: %w", err)
	}

	valuesA := in.A.Values()
	valuesB := in.B.Values()

	out := outputVolume("ttest", in.A[0])
	data := out.Floats()

	err = sweep(dims.Voxels(), stop, progress, opts, func() func(int) {
		a := make([]float64, len(valuesA))
		b := make([]float64, len(valuesB))
		return func(i int) {
			for k := range valuesA {
				a[k] = valuesA[k][i]
			}
			for k := range valuesB {
				b[k] = valuesB[k][i]
			}
			t, p := stats.TTest(a, b, in.EqualVariance, in.Tail)
			if p < in.PValue && isFinite(t) {
				data[i] = t
			}
		}
	})
	if err != nil {
		return nil, err
	}

	out.DataMap = observedRange(data)
	return out, nil
}
