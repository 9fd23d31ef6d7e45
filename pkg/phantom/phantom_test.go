package phantom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurostats/internal/models"
	"neurostats/pkg/brushing"
	"neurostats/pkg/compute"
	"neurostats/pkg/stats"
)

func TestSphere(t *testing.T) {
	dims := models.Dims{X: 5, Y: 5, Z: 5}
	v := Sphere(dims, [3]float64{2, 2, 2}, 1, 7, 1)

	assert.Equal(t, 7.0, v.ValueAt(dims.Index(2, 2, 2)))
	assert.Equal(t, 7.0, v.ValueAt(dims.Index(2, 3, 2)))
	assert.Equal(t, 1.0, v.ValueAt(dims.Index(3, 3, 2)))
	assert.Equal(t, 1.0, v.ValueAt(0))
	assert.Equal(t, [2]float64{1, 7}, v.DataMap.ValueRange)
}

func TestSingleVoxel(t *testing.T) {
	seq := SingleVoxel(models.Dims{X: 2, Y: 2, Z: 1}, 3, 1, 2, 3)
	require.Len(t, seq, 3)
	for k, v := range seq {
		assert.Equal(t, float64(k+1), v.ValueAt(3))
		assert.Equal(t, 0.0, v.ValueAt(0))
	}
	assert.NotEqual(t, seq[0].ID, seq[1].ID)
}

func TestNewIsReproducible(t *testing.T) {
	first, err := New(DefaultOptions())
	require.NoError(t, err)
	second, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, first.Volumes[3].Floats(), second.Volumes[3].Floats())

	opts := DefaultOptions()
	opts.Seed = 2
	other, err := New(opts)
	require.NoError(t, err)
	assert.NotEqual(t, first.Volumes[3].Floats(), other.Volumes[3].Floats())
}

func TestNewLayout(t *testing.T) {
	opts := DefaultOptions()
	c, err := New(opts)
	require.NoError(t, err)

	require.Len(t, c.Volumes, 2*opts.Subjects)
	assert.Equal(t, 2*opts.Subjects, c.Table.Rows())
	assert.Equal(t, []string{"filename", "group", "age", "score"}, c.Table.Names())

	counts := map[uint8]int{}
	for _, label := range c.Atlas.Data.(models.Buffer[uint8]) {
		counts[label]++
	}
	assert.Positive(t, counts[GroupRegion])
	assert.Positive(t, counts[AgeRegion])
	assert.Positive(t, counts[BrainRegion])
	assert.Positive(t, counts[0], "background outside the brain")

	key, ok := c.Table.Column("filename")
	require.True(t, ok)
	ages, ok := c.Table.Column("age")
	require.True(t, ok)
	for k, v := range c.Volumes {
		assert.Equal(t, v.ID, key.String(k))
		assert.GreaterOrEqual(t, ages.Float(k), opts.MinAge)
		assert.LessOrEqual(t, ages.Float(k), opts.MaxAge)
	}

	a, b := c.Groups()
	assert.Len(t, a, opts.Subjects)
	assert.Len(t, b, opts.Subjects)
}

func TestNewRejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Subjects = 1
	_, err := New(opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.MinAge, opts.MaxAge = 50, 10
	_, err = New(opts)
	assert.Error(t, err)
}

func TestCohortEffectsAreDetected(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	labels := c.Atlas.Data.(models.Buffer[uint8])

	a, b := c.Groups()
	tmap, err := compute.TTestVolume(compute.TTestInput{A: a, B: b, PValue: 0.05, Tail: stats.TwoTailed}, nil, nil, compute.Options{})
	require.NoError(t, err)

	rmap, err := compute.ParameterCorrelationVolume(compute.ParameterCorrelationInput{
		Volumes: c.Volumes,
		Table:   c.Table,
		Columns: brushing.NewIndexSet(c.Table.ColumnIndex("age")),
		Method:  stats.Pearson,
		Tail:    stats.TwoTailed,
		PValue:  0.05,
	}, nil, nil, compute.Options{})
	require.NoError(t, err)

	for i, label := range labels {
		switch label {
		case GroupRegion:
			assert.Less(t, tmap.Floats()[i], 0.0, "group b is brighter at voxel %d", i)
		case AgeRegion:
			assert.Greater(t, rmap.Floats()[i], 0.5, "age effect at voxel %d", i)
		case 0:
			assert.Equal(t, 0.0, tmap.Floats()[i])
		}
	}
}
