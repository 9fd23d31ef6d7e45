package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeMismatch is returned when volumes that are used together do not
	// share the same grid, or when a table does not have one row per volume.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrEmptySequence is returned when an operation needs at least one volume.
	ErrEmptySequence = errors.New("empty volume sequence")
)

// Dims holds the number of voxels along each axis of a volume grid
type Dims struct {
	X, Y, Z int
}

// Voxels returns the total number of voxels in the grid
func (d Dims) Voxels() int {
	return d.X * d.Y * d.Z
}

// Index converts voxel coordinates to a flat index. The x axis varies fastest,
// matching a row-major layout of z-slices: z*X*Y + y*X + x.
func (d Dims) Index(x, y, z int) int {
	return z*d.X*d.Y + y*d.X + x
}

// Coords converts a flat index back to voxel coordinates
func (d Dims) Coords(i int) (x, y, z int) {
	x = i % d.X
	z = i / (d.X * d.Y)
	y = i/d.X - z*d.Y
	return x, y, z
}

// Contains reports whether the voxel coordinates lie inside the grid
func (d Dims) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < d.X && y < d.Y && z < d.Z
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.X, d.Y, d.Z)
}

// DataMap maps stored sample values to physical value units.
// A stored value d is mapped linearly from DataRange onto ValueRange.
type DataMap struct {
	// DataRange is the range of the stored representation
	DataRange [2]float64

	// ValueRange is the corresponding range in physical units
	ValueRange [2]float64
}

// IdentityDataMap returns a data map whose data and value ranges are both [min, max]
func IdentityDataMap(min, max float64) DataMap {
	return DataMap{
		DataRange:  [2]float64{min, max},
		ValueRange: [2]float64{min, max},
	}
}

// ToValue maps a stored value to physical units. A degenerate data range, or
// identical data and value ranges, leave the value untouched.
func (m DataMap) ToValue(d float64) float64 {
	width := m.DataRange[1] - m.DataRange[0]
	if width == 0 || m.DataRange == m.ValueRange {
		return d
	}
	return (d-m.DataRange[0])/width*(m.ValueRange[1]-m.ValueRange[0]) + m.ValueRange[0]
}

// Volume represents a 3D scalar grid handed to a statistical computation.
// A volume must be treated as immutable once it is part of a submitted job.
type Volume struct {
	// ID identifies the volume, e.g. the file name of a subject's scan.
	// It is used to join volumes to sample table rows.
	ID string

	// Dims is the size of the grid in voxels
	Dims Dims

	// Data holds the stored samples in flat index order (see Dims.Index)
	Data Samples

	// DataMap converts stored samples to physical values
	DataMap DataMap

	// IndexToWorld maps voxel index coordinates to world coordinates
	IndexToWorld Affine
}

// NewVolume creates a volume over existing samples. The number of samples
// must match the grid size.
func NewVolume(dims Dims, data Samples) (*Volume, error) {
	if data.Len() != dims.Voxels() {
		return nil, fmt.Errorf("volume %s needs %d samples, got %d: %w",
			dims, dims.Voxels(), data.Len(), ErrSizeMismatch)
	}
	return &Volume{
		Dims:         dims,
		Data:         data,
		IndexToWorld: IdentityAffine(),
	}, nil
}

// NewFloatVolume allocates a zero-filled float64 volume
func NewFloatVolume(dims Dims) *Volume {
	return &Volume{
		Dims:         dims,
		Data:         make(Buffer[float64], dims.Voxels()),
		IndexToWorld: IdentityAffine(),
	}
}

// ValueAt returns the value-mapped sample at flat index i
func (v *Volume) ValueAt(i int) float64 {
	return v.DataMap.ToValue(v.Data.At(i))
}

// Values converts the whole volume to value-mapped float64 samples
func (v *Volume) Values() []float64 {
	n := v.Data.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.DataMap.ToValue(v.Data.At(i))
	}
	return out
}

// Floats returns the backing slice of a float64 volume. It panics for other
// storage kinds; it is meant for volumes created with NewFloatVolume.
func (v *Volume) Floats() []float64 {
	return v.Data.(Buffer[float64])
}

// Sequence is an ordered ensemble of volumes, one per subject or sample
type Sequence []*Volume

// CommonDims returns the grid shared by all volumes in the sequence.
// It fails if the sequence is empty or if any volume differs in size.
func (s Sequence) CommonDims() (Dims, error) {
	if len(s) == 0 {
		return Dims{}, ErrEmptySequence
	}
	dims := s[0].Dims
	for i, v := range s[1:] {
		if v.Dims != dims {
			return Dims{}, fmt.Errorf("volume %d is %s, expected %s: %w",
				i+1, v.Dims, dims, ErrSizeMismatch)
		}
	}
	return dims, nil
}

// Values converts every volume to value-mapped float64 samples.
// The result is indexed [volume][voxel].
func (s Sequence) Values() [][]float64 {
	out := make([][]float64, len(s))
	for i, v := range s {
		out[i] = v.Values()
	}
	return out
}

// Clone returns a shallow copy of the sequence slice, so that appending to or
// reordering the original does not affect the copy.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}
