// Package phantom generates synthetic subject cohorts with known effects.
// The volumes, the subject table and the labelled atlas it produces are used
// to exercise the analyses end to end without real scans.
package phantom

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"neurostats/internal/models"
)

// Region labels of the generated atlas
const (
	GroupRegion = 1
	AgeRegion   = 2
	BrainRegion = 3
)

// Options controls the generated cohort
type Options struct {
	// Dims is the grid of every volume
	Dims models.Dims

	// Subjects is the number of subjects per group
	Subjects int

	// Seed makes the cohort reproducible
	Seed uint64

	// Baseline is the mean value inside the brain
	Baseline float64

	// Noise is the standard deviation added to every brain voxel
	Noise float64

	// GroupEffect is added to group b inside the group region
	GroupEffect float64

	// AgeSlope is the change per year of age inside the age region
	AgeSlope float64

	// MinAge and MaxAge bound the uniformly drawn subject ages
	MinAge, MaxAge float64
}

// DefaultOptions returns a small cohort with clear effects
func DefaultOptions() Options {
	return Options{
		Dims:        models.Dims{X: 16, Y: 16, Z: 8},
		Subjects:    10,
		Seed:        1,
		Baseline:    100,
		Noise:       2,
		GroupEffect: 10,
		AgeSlope:    0.5,
		MinAge:      20,
		MaxAge:      80,
	}
}

// Cohort is a generated study
type Cohort struct {
	// Volumes holds one volume per subject, group a first
	Volumes models.Sequence

	// Table has one row per volume: filename, group, age and score
	Table *models.SampleTable

	// Atlas labels the group region, the age region and the rest of the brain
	Atlas *models.Volume

	// Labels names the atlas regions: Index, Region and Color
	Labels *models.SampleTable
}

// Sphere returns a float64 volume holding inside within radius voxels of
// center and outside elsewhere
func Sphere(dims models.Dims, center [3]float64, radius, inside, outside float64) *models.Volume {
	v := models.NewFloatVolume(dims)
	data := v.Floats()
	for i := range data {
		if distance(dims, i, center) <= radius {
			data[i] = inside
		} else {
			data[i] = outside
		}
	}
	v.DataMap = models.IdentityDataMap(math.Min(inside, outside), math.Max(inside, outside))
	return v
}

// SingleVoxel returns one volume per value, each zero except at voxel i
func SingleVoxel(dims models.Dims, i int, values ...float64) models.Sequence {
	seq := make(models.Sequence, len(values))
	for k, value := range values {
		v := models.NewFloatVolume(dims)
		v.ID = fmt.Sprintf("voxel_%03d.nii", k)
		v.Floats()[i] = value
		seq[k] = v
	}
	return seq
}

func distance(dims models.Dims, i int, center [3]float64) float64 {
	x, y, z := dims.Coords(i)
	dx, dy, dz := float64(x)-center[0], float64(y)-center[1], float64(z)-center[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func inDisc(dims models.Dims, i int, center [3]float64, radius float64) bool {
	x, y, _ := dims.Coords(i)
	return math.Hypot(float64(x)-center[0], float64(y)-center[1]) <= radius
}

// New generates a cohort of two groups. Group b is brighter inside the group
// region, and values inside the age region grow with age.
func New(opts Options) (*Cohort, error) {
	if opts.Subjects < 2 {
		return nil, fmt.Errorf("need at least 2 subjects per group, got %d", opts.Subjects)
	}
	if opts.Dims.Voxels() == 0 {
		return nil, fmt.Errorf("empty grid %s", opts.Dims)
	}
	if opts.MaxAge < opts.MinAge {
		return nil, fmt.Errorf("age range [%v, %v] is reversed", opts.MinAge, opts.MaxAge)
	}

	dims := opts.Dims
	mid := [3]float64{float64(dims.X-1) / 2, float64(dims.Y-1) / 2, float64(dims.Z-1) / 2}
	// the brain is a disc in x and y, extruded through every slice
	brainRadius := math.Min(mid[0], mid[1]) + 0.5
	regionRadius := math.Max(brainRadius/2.5, 1)
	groupCenter := [3]float64{mid[0] - brainRadius/2, mid[1], mid[2]}
	ageCenter := [3]float64{mid[0] + brainRadius/2, mid[1], mid[2]}

	atlas, err := models.NewVolume(dims, make(models.Buffer[uint8], dims.Voxels()))
	if err != nil {
		return nil, err
	}
	labels := atlas.Data.(models.Buffer[uint8])
	for i := range labels {
		switch {
		case distance(dims, i, groupCenter) <= regionRadius:
			labels[i] = GroupRegion
		case distance(dims, i, ageCenter) <= regionRadius:
			labels[i] = AgeRegion
		case inDisc(dims, i, mid, brainRadius):
			labels[i] = BrainRegion
		}
	}
	atlas.ID = "phantom_atlas"
	atlas.DataMap = models.IdentityDataMap(0, BrainRegion)

	src := rand.NewSource(opts.Seed)
	noise := distuv.Normal{Mu: 0, Sigma: opts.Noise, Src: src}
	standard := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	ageDist := distuv.Uniform{Min: opts.MinAge, Max: opts.MaxAge, Src: src}
	meanAge := (opts.MinAge + opts.MaxAge) / 2

	n := 2 * opts.Subjects
	c := &Cohort{Volumes: make(models.Sequence, n), Atlas: atlas}
	names := make([]string, n)
	groups := make([]string, n)
	ages := make([]float64, n)
	scores := make([]float64, n)

	for k := 0; k < n; k++ {
		group := "a"
		if k >= opts.Subjects {
			group = "b"
		}
		age := math.Round(ageDist.Rand())

		v := models.NewFloatVolume(dims)
		v.ID = fmt.Sprintf("sub-%02d_%s.nii", k+1, group)
		data := v.Floats()
		lo, hi := math.Inf(1), math.Inf(-1)
		for i, label := range labels {
			if label == 0 {
				continue
			}
			value := opts.Baseline + noise.Rand()
			if label == GroupRegion && group == "b" {
				value += opts.GroupEffect
			}
			if label == AgeRegion {
				value += opts.AgeSlope * (age - meanAge)
			}
			data[i] = value
			lo, hi = math.Min(lo, value), math.Max(hi, value)
		}
		if lo > hi {
			lo, hi = 0, 1
		}
		v.DataMap = models.IdentityDataMap(math.Min(lo, 0), hi)

		c.Volumes[k] = v
		names[k] = v.ID
		groups[k] = group
		ages[k] = age
		// the score follows age loosely and carries no voxel effect of its own
		scores[k] = 0.3*age + 5*standard.Rand()
	}

	c.Table = models.NewSampleTable()
	if err := c.Table.AddCategorical("filename", names); err != nil {
		return nil, err
	}
	if err := c.Table.AddCategorical("group", groups); err != nil {
		return nil, err
	}
	if err := c.Table.AddNumeric("age", ages); err != nil {
		return nil, err
	}
	if err := c.Table.AddNumeric("score", scores); err != nil {
		return nil, err
	}

	c.Labels = models.NewSampleTable()
	if err := c.Labels.AddNumeric("Index", []float64{GroupRegion, AgeRegion, BrainRegion}); err != nil {
		return nil, err
	}
	if err := c.Labels.AddCategorical("Region", []string{"group_region", "age_region", "brain"}); err != nil {
		return nil, err
	}
	if err := c.Labels.AddCategorical("Color", []string{"#e41a1c", "#377eb8", "#bbbbbb"}); err != nil {
		return nil, err
	}
	return c, nil
}

// Groups splits the cohort volumes into group a and group b
func (c *Cohort) Groups() (a, b models.Sequence) {
	groups, _ := c.Table.Column("group")
	for k, v := range c.Volumes {
		if groups.String(k) == "a" {
			a = append(a, v)
		} else {
			b = append(b, v)
		}
	}
	return a, b
}
