// Package coords maps voxel positions between volumes whose grids differ in
// resolution or placement, by going through world space.
package coords

import (
	"fmt"
	"math"

	"neurostats/internal/models"
)

// snapTolerance is the distance to an integer below which a transformed
// coordinate is treated as exactly that integer. Without it, an identity
// round trip can land on 4.9999999 and truncate to the wrong voxel.
const snapTolerance = 1e-6

// Mapper converts flat indices of a source grid into flat indices of a target
// grid: source index -> world -> target index, truncated to whole voxels.
type Mapper struct {
	from, to models.Dims
	rows     [16]float64
}

// NewMapper composes the source index-to-world transform with the inverse of
// the target index-to-world transform. A singular target transform is an error.
func NewMapper(fromDims models.Dims, fromIndexToWorld models.Affine,
	toDims models.Dims, toIndexToWorld models.Affine) (*Mapper, error) {
	worldToIndex, err := toIndexToWorld.Inverse()
	if err != nil {
		return nil, fmt.Errorf("target grid %s: %w", toDims, err)
	}
	return &Mapper{
		from: fromDims,
		to:   toDims,
		rows: worldToIndex.Mul(fromIndexToWorld).Rows(),
	}, nil
}

// ForVolumes is a convenience for NewMapper using the geometry of two volumes
func ForVolumes(from, to *models.Volume) (*Mapper, error) {
	return NewMapper(from.Dims, from.IndexToWorld, to.Dims, to.IndexToWorld)
}

// Target returns the dimensions of the target grid
func (m *Mapper) Target() models.Dims {
	return m.to
}

// MapIndex maps voxel coordinates of the source grid to the target grid.
// ok is false when the position falls outside the target grid.
func (m *Mapper) MapIndex(x, y, z int) (x2, y2, z2 int, ok bool) {
	r := &m.rows
	fx, fy, fz := float64(x), float64(y), float64(z)
	px := r[0]*fx + r[1]*fy + r[2]*fz + r[3]
	py := r[4]*fx + r[5]*fy + r[6]*fz + r[7]
	pz := r[8]*fx + r[9]*fy + r[10]*fz + r[11]
	if w := r[12]*fx + r[13]*fy + r[14]*fz + r[15]; w != 1 && w != 0 {
		px, py, pz = px/w, py/w, pz/w
	}

	x2, y2, z2 = truncate(px), truncate(py), truncate(pz)
	return x2, y2, z2, m.to.Contains(x2, y2, z2)
}

// Map maps a flat source index to a flat target index
func (m *Mapper) Map(flat int) (int, bool) {
	x, y, z := m.from.Coords(flat)
	x2, y2, z2, ok := m.MapIndex(x, y, z)
	if !ok {
		return -1, false
	}
	return m.to.Index(x2, y2, z2), true
}

// IndexToWorld returns the world position of voxel coordinates p
func IndexToWorld(indexToWorld models.Affine, p [3]float64) [3]float64 {
	return indexToWorld.Apply(p)
}

// WorldToIndex returns the voxel containing world position p in a grid with
// the given index-to-world transform. ok is false outside dims.
func WorldToIndex(dims models.Dims, indexToWorld models.Affine, p [3]float64) (x, y, z int, ok bool) {
	inv, err := indexToWorld.Inverse()
	if err != nil {
		return -1, -1, -1, false
	}
	q := inv.Apply(p)
	x, y, z = truncate(q[0]), truncate(q[1]), truncate(q[2])
	return x, y, z, dims.Contains(x, y, z)
}

func truncate(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		return int(r)
	}
	return int(math.Floor(v))
}
