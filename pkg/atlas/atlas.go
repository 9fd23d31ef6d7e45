// Package atlas pairs a labelled volume, where every voxel holds a region id,
// with the table that names those regions.
package atlas

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"neurostats/internal/models"
	"neurostats/pkg/coords"
)

// ErrMissingColumn is returned when the label table has no region index column
var ErrMissingColumn = models.ErrMissingColumn

// Column headers recognised in a label table, compared case-insensitively
var (
	IndexColumns = []string{"Index", "Label ID"}
	NameColumns  = []string{"Region", "Label Name"}
	ColorColumns = []string{"Color"}
)

// Color is an RGBA color with components in [0, 1]
type Color struct {
	R, G, B, A float64
}

// Label describes one atlas region
type Label struct {
	ID       int
	Name     string
	Color    Color
	HasColor bool
}

// Atlas is a labelled volume with its region names
type Atlas struct {
	volume *models.Volume
	labels map[int]Label
}

// New builds an atlas from a labelled volume and a label table.
//
// The region id column is the one named Index or Label ID, or else the first
// numeric column. Names come from a Region or Label Name column, or else the
// first text column; a table without names still defines the ids. An optional
// Color column holds either hex (#rrggbb, #rrggbbaa) or four numbers.
func New(volume *models.Volume, table *models.SampleTable) (*Atlas, error) {
	idCol := table.ColumnIndex(IndexColumns...)
	if idCol < 0 {
		idCol = firstColumn(table, true)
	}
	if idCol < 0 {
		return nil, fmt.Errorf("no region index column in atlas labels, add an Index column: %w",
			ErrMissingColumn)
	}
	nameCol := table.ColumnIndex(NameColumns...)
	if nameCol < 0 {
		nameCol = firstColumn(table, false)
	}
	colorCol := table.ColumnIndex(ColorColumns...)

	ids := table.ColumnAt(idCol)
	labels := make(map[int]Label, ids.Len())
	for row := 0; row < ids.Len(); row++ {
		v := ids.Float(row)
		if math.IsNaN(v) {
			continue
		}
		l := Label{ID: int(v)}
		if nameCol >= 0 {
			l.Name = table.ColumnAt(nameCol).String(row)
		}
		if colorCol >= 0 {
			l.Color, l.HasColor = ParseColor(table.ColumnAt(colorCol).String(row))
		}
		labels[l.ID] = l
	}
	return &Atlas{volume: volume, labels: labels}, nil
}

func firstColumn(table *models.SampleTable, numeric bool) int {
	for i := 0; i < table.NumColumns(); i++ {
		if table.ColumnAt(i).Numeric() == numeric {
			return i
		}
	}
	return -1
}

// ParseColor parses "#rrggbb", "#rrggbbaa" or four whitespace separated numbers
func ParseColor(s string) (Color, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 6 && len(hex) != 8 {
			return Color{}, false
		}
		if len(hex) == 6 {
			hex += "ff"
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Color{}, false
		}
		return Color{
			R: float64(v>>24&0xff) / 255,
			G: float64(v>>16&0xff) / 255,
			B: float64(v>>8&0xff) / 255,
			A: float64(v&0xff) / 255,
		}, true
	}

	fields := strings.Fields(s)
	if len(fields) != 4 {
		return Color{}, false
	}
	var c [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Color{}, false
		}
		c[i] = v
	}
	return Color{R: c[0], G: c[1], B: c[2], A: c[3]}, true
}

// Volume returns the labelled volume
func (a *Atlas) Volume() *models.Volume { return a.volume }

// LabelAt returns the region id stored at voxel (x, y, z), or -1 outside the grid
func (a *Atlas) LabelAt(x, y, z int) int {
	if !a.volume.Dims.Contains(x, y, z) {
		return -1
	}
	return int(a.volume.ValueAt(a.volume.Dims.Index(x, y, z)))
}

// LabelAtWorld returns the region id at a world position, or -1 outside the grid
func (a *Atlas) LabelAtWorld(p [3]float64) int {
	x, y, z, ok := coords.WorldToIndex(a.volume.Dims, a.volume.IndexToWorld, p)
	if !ok {
		return -1
	}
	return a.LabelAt(x, y, z)
}

// LabelID returns the id of the region with the given name, or -1
func (a *Atlas) LabelID(name string) int {
	for _, l := range a.Labels() {
		if l.Name == name {
			return l.ID
		}
	}
	return -1
}

// Label returns the region with the given id
func (a *Atlas) Label(id int) (Label, bool) {
	l, ok := a.labels[id]
	return l, ok
}

// Name returns the name of region id, or "" if unknown
func (a *Atlas) Name(id int) string {
	return a.labels[id].Name
}

// HasColors reports whether any region has a color
func (a *Atlas) HasColors() bool {
	for _, l := range a.labels {
		if l.HasColor {
			return true
		}
	}
	return false
}

// Labels returns all regions ordered by id
func (a *Atlas) Labels() []Label {
	out := make([]Label, 0, len(a.labels))
	for _, l := range a.labels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
