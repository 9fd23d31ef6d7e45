package compute

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"neurostats/internal/models"
	"neurostats/pkg/atlas"
	"neurostats/pkg/brushing"
	"neurostats/pkg/stats"
)

// SequenceMean computes the voxelwise mean of a sequence in value units.
// Missing (NaN) samples are ignored. The output data map is the average of
// the input value ranges.
func SequenceMean(volumes models.Sequence, stop StopFunc, progress ProgressFunc, opts Options) (*models.Volume, error) {
	dims, err := volumes.CommonDims()
	if err != nil {
		return nil, fmt.Errorf("sequence mean: %w", err)
	}
	values := volumes.Values()
	out := outputVolume("mean", volumes[0])
	data := out.Floats()

	err = sweep(dims.Voxels(), stop, progress, opts, func() func(int) {
		seq := make([]float64, len(values))
		return func(i int) {
			for k := range values {
				seq[k] = values[k][i]
			}
			if m := stats.MeanIgnoringMissing(seq); !math.IsNaN(m) {
				data[i] = m
			}
		}
	})
	if err != nil {
		return nil, err
	}

	var valueRange [2]float64
	w := 1 / float64(len(volumes))
	for _, v := range volumes {
		valueRange[0] += w * v.DataMap.ValueRange[0]
		valueRange[1] += w * v.DataMap.ValueRange[1]
	}
	out.DataMap = models.DataMap{DataRange: valueRange, ValueRange: valueRange}
	return out, nil
}

// SequenceMeanVariance computes the voxelwise mean and sample variance of a
// sequence, or the standard deviation when stdDev is set. A sequence of one
// volume has zero spread.
func SequenceMeanVariance(volumes models.Sequence, stdDev bool, stop StopFunc, progress ProgressFunc, opts Options) (mean, spread *models.Volume, err error) {
	dims, err := volumes.CommonDims()
	if err != nil {
		return nil, nil, fmt.Errorf("sequence variance: %w", err)
	}
	values := volumes.Values()
	mean = outputVolume("mean", volumes[0])
	name := "variance"
	if stdDev {
		name = "stddev"
	}
	spread = outputVolume(name, volumes[0])
	meanData, spreadData := mean.Floats(), spread.Floats()

	err = sweep(dims.Voxels(), stop, progress, opts, func() func(int) {
		seq := make([]float64, len(values))
		return func(i int) {
			for k := range values {
				seq[k] = values[k][i]
			}
			m, v := stat.MeanVariance(seq, nil)
			if stdDev {
				v = math.Sqrt(v)
			}
			if isFinite(m) {
				meanData[i] = m
			}
			if isFinite(v) {
				spreadData[i] = v
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}

	mean.DataMap = observedRange(meanData)
	spread.DataMap = observedRange(spreadData)
	return mean, spread, nil
}

// BrainMask marks every voxel that is non-zero in at least one volume with
// atlas.MaskBrain. Stop is polled once per volume.
func BrainMask(volumes models.Sequence, stop StopFunc) (*models.Volume, error) {
	dims, err := volumes.CommonDims()
	if err != nil {
		return nil, fmt.Errorf("brain mask: %w", err)
	}
	data := make(models.Buffer[uint8], dims.Voxels())
	for _, v := range volumes {
		if stop != nil && stop() {
			return nil, ErrCanceled
		}
		for i := range data {
			if v.Data.At(i) != 0 {
				data[i] = atlas.MaskBrain
			}
		}
	}
	return &models.Volume{
		ID:           "brain_mask",
		Dims:         dims,
		Data:         data,
		DataMap:      models.IdentityDataMap(0, 255),
		IndexToWorld: volumes[0].IndexToWorld,
	}, nil
}

// FilterSequence joins volumes to table rows through Volume.ID and the key
// column, and drops the volumes whose rows are filtered. When keyColumn does
// not exist the first column is used. Volumes without a matching row are
// dropped with a warning.
//
// It returns the kept volumes and the IDs of the filtered ones. If every
// volume is filtered, the result is a single zero volume on the same grid so
// that downstream sweeps still have a grid to work on.
func FilterSequence(volumes models.Sequence, table *models.SampleTable, keyColumn string,
	filtered brushing.IndexSet, logger *zap.Logger) (models.Sequence, []string, error) {
	if len(volumes) == 0 {
		return nil, nil, models.ErrEmptySequence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkTable(table, len(volumes)); err != nil {
		return nil, nil, fmt.Errorf("filter sequence: %w", err)
	}

	key, ok := table.Column(keyColumn)
	if !ok {
		if table.NumColumns() == 0 {
			return nil, nil, fmt.Errorf("filter sequence: table has no columns: %w", models.ErrMissingColumn)
		}
		key = table.ColumnAt(0)
		logger.Debug("key column not found, using first column",
			zap.String("requested", keyColumn), zap.String("column", key.Name()))
	}

	rows := make(map[string]int, key.Len())
	for row := 0; row < key.Len(); row++ {
		id := key.String(row)
		if prev, dup := rows[id]; dup {
			logger.Warn("duplicate volume id in table",
				zap.String("id", id), zap.Int("row", row), zap.Int("previous_row", prev))
		}
		rows[id] = row
	}

	var kept models.Sequence
	var excluded []string
	for _, v := range volumes {
		row, ok := rows[v.ID]
		if !ok {
			logger.Warn("volume cannot be mapped to a table row", zap.String("id", v.ID))
			continue
		}
		if filtered.Contains(row) {
			excluded = append(excluded, v.ID)
			continue
		}
		kept = append(kept, v)
	}

	if len(kept) == 0 {
		empty := outputVolume("empty", volumes[0])
		empty.DataMap = models.IdentityDataMap(0, 1)
		kept = models.Sequence{empty}
	}
	logger.Debug("filtered volume sequence",
		zap.Int("volumes", len(volumes)), zap.Int("kept", len(kept)), zap.Int("excluded", len(excluded)))
	return kept, excluded, nil
}
