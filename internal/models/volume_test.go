package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimsIndexRoundTrip(t *testing.T) {
	dims := Dims{X: 4, Y: 3, Z: 5}
	for i := 0; i < dims.Voxels(); i++ {
		x, y, z := dims.Coords(i)
		require.True(t, dims.Contains(x, y, z))
		assert.Equal(t, i, dims.Index(x, y, z))
	}
	assert.False(t, dims.Contains(4, 0, 0))
	assert.False(t, dims.Contains(0, -1, 0))
}

func TestDataMapToValue(t *testing.T) {
	tests := []struct {
		name string
		dm   DataMap
		in   float64
		want float64
	}{
		{"zero value is identity", DataMap{}, 42, 42},
		{"identity ranges", IdentityDataMap(0, 255), 17, 17},
		{"rescale", DataMap{DataRange: [2]float64{0, 255}, ValueRange: [2]float64{-1, 1}}, 255, 1},
		{"rescale midpoint", DataMap{DataRange: [2]float64{0, 100}, ValueRange: [2]float64{0, 10}}, 50, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.dm.ToValue(tt.in), 1e-12)
		})
	}
}

func TestVolumeValuesApplyDataMap(t *testing.T) {
	v, err := NewVolume(Dims{X: 2, Y: 1, Z: 1}, Buffer[uint8]{0, 200})
	require.NoError(t, err)
	v.DataMap = DataMap{DataRange: [2]float64{0, 200}, ValueRange: [2]float64{0, 1}}

	assert.Equal(t, KindUint8, v.Data.Kind())
	assert.Equal(t, []float64{0, 1}, v.Values())
	assert.Equal(t, 1.0, v.ValueAt(1))
}

func TestNewVolumeRejectsWrongSampleCount(t *testing.T) {
	_, err := NewVolume(Dims{X: 2, Y: 2, Z: 2}, Buffer[float32]{1, 2, 3})
	assert.True(t, errors.Is(err, ErrSizeMismatch))
}

func TestSequenceCommonDims(t *testing.T) {
	a := NewFloatVolume(Dims{X: 2, Y: 2, Z: 2})
	b := NewFloatVolume(Dims{X: 2, Y: 2, Z: 2})
	c := NewFloatVolume(Dims{X: 3, Y: 2, Z: 2})

	dims, err := Sequence{a, b}.CommonDims()
	require.NoError(t, err)
	assert.Equal(t, Dims{X: 2, Y: 2, Z: 2}, dims)

	_, err = Sequence{a, c}.CommonDims()
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = Sequence{}.CommonDims()
	assert.ErrorIs(t, err, ErrEmptySequence)
}

func TestAffineInverse(t *testing.T) {
	a := NewAffine([3]float64{2, 2, 4}, [3]float64{-10, 5, 1})
	inv, err := a.Inverse()
	require.NoError(t, err)

	p := a.Apply([3]float64{3, 4, 5})
	assert.InDeltaSlice(t, []float64{-4, 13, 21}, p[:], 1e-12)

	back := inv.Apply(p)
	assert.InDeltaSlice(t, []float64{3, 4, 5}, back[:], 1e-12)
	assert.True(t, a.Mul(inv).Equal(IdentityAffine(), 1e-12))

	_, err = AffineFromRows([16]float64{}).Inverse()
	assert.Error(t, err)
}

func TestSampleTable(t *testing.T) {
	table := NewSampleTable()
	require.NoError(t, table.AddNumeric("Age", []float64{30, math.NaN(), 50}))
	require.NoError(t, table.AddCategorical("Group", []string{"a", "b", "3.5"}))
	assert.ErrorIs(t, table.AddNumeric("Short", []float64{1}), ErrSizeMismatch)

	assert.Equal(t, 3, table.Rows())
	assert.Equal(t, []string{"Age", "Group"}, table.Names())
	assert.Equal(t, 1, table.ColumnIndex("group"))
	assert.Equal(t, -1, table.ColumnIndex("missing"))

	group, ok := table.Column("Group")
	require.True(t, ok)
	assert.False(t, group.Numeric())
	assert.True(t, math.IsNaN(group.Float(0)))
	assert.Equal(t, 3.5, group.Float(2))

	age := table.ColumnAt(0)
	assert.True(t, math.IsNaN(age.Float(1)))
	assert.Equal(t, "50", age.String(2))
}
