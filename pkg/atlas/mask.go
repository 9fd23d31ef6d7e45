package atlas

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/gocarina/gocsv"

	"neurostats/internal/models"
	"neurostats/pkg/brushing"
	"neurostats/pkg/coords"
)

// Bits of the mask produced by Mask
const (
	MaskSelection uint8 = 1 << 6
	MaskBrain     uint8 = 1 << 7
)

// Mask builds a uint8 volume on the grid of volume. MaskBrain is set where
// volume is non-zero, MaskSelection where the voxel falls inside one of the
// selected atlas regions. An empty selection sets no MaskSelection bits.
func (a *Atlas) Mask(volume *models.Volume, selected brushing.IndexSet) (*models.Volume, error) {
	var mapper *coords.Mapper
	if !selected.Empty() {
		var err error
		if mapper, err = coords.ForVolumes(volume, a.volume); err != nil {
			return nil, fmt.Errorf("atlas mask: %w", err)
		}
	}

	n := volume.Dims.Voxels()
	data := make(models.Buffer[uint8], n)
	for i := 0; i < n; i++ {
		var bits uint8
		if mapper != nil {
			if j, ok := mapper.Map(i); ok && selected.Contains(int(a.volume.ValueAt(j))) {
				bits |= MaskSelection
			}
		}
		if volume.ValueAt(i) != 0 {
			bits |= MaskBrain
		}
		data[i] = bits
	}

	mask := &models.Volume{
		ID:           volume.ID + "_mask",
		Dims:         volume.Dims,
		Data:         data,
		DataMap:      models.IdentityDataMap(0, 255),
		IndexToWorld: volume.IndexToWorld,
	}
	return mask, nil
}

// RegionCenter is the representative position of one atlas region
type RegionCenter struct {
	Index    int     `csv:"Region index"`
	X        float64 `csv:"Center x"`
	Y        float64 `csv:"Center y"`
	Z        float64 `csv:"Center z"`
	Coverage float64 `csv:"Region volume coverage"`
}

// Centers returns, for each region id present in the atlas volume, the world
// position of the region voxel closest to the region's mean position, so that
// the point is guaranteed to lie inside the region. Coverage is the share of
// the grid the region occupies. Results are ordered by id.
func (a *Atlas) Centers() []RegionCenter {
	dims := a.volume.Dims
	type accum struct {
		sum       [3]float64
		positions [][3]float64
	}
	regions := make(map[int]*accum)
	var ids []int

	for i := 0; i < dims.Voxels(); i++ {
		id := int(a.volume.ValueAt(i))
		x, y, z := dims.Coords(i)
		p := coords.IndexToWorld(a.volume.IndexToWorld, [3]float64{float64(x), float64(y), float64(z)})

		r, ok := regions[id]
		if !ok {
			r = &accum{}
			regions[id] = r
			ids = append(ids, id)
		}
		for k := range p {
			r.sum[k] += p[k]
		}
		r.positions = append(r.positions, p)
	}

	sort.Ints(ids)
	out := make([]RegionCenter, 0, len(ids))
	for _, id := range ids {
		r := regions[id]
		count := float64(len(r.positions))
		mean := [3]float64{r.sum[0] / count, r.sum[1] / count, r.sum[2] / count}

		best, bestDist := mean, math.Inf(1)
		for _, p := range r.positions {
			dx, dy, dz := p[0]-mean[0], p[1]-mean[1], p[2]-mean[2]
			if d := dx*dx + dy*dy + dz*dz; d < bestDist {
				best, bestDist = p, d
			}
		}
		out = append(out, RegionCenter{
			Index:    id,
			X:        best[0],
			Y:        best[1],
			Z:        best[2],
			Coverage: count / float64(dims.Voxels()),
		})
	}
	return out
}

// WriteCenters writes region centers as CSV
func WriteCenters(w io.Writer, centers []RegionCenter) error {
	if err := gocsv.Marshal(&centers, w); err != nil {
		return fmt.Errorf("failed to write region centers: %w", err)
	}
	return nil
}
