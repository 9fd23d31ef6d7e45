package cli

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"neurostats/internal/models"
	"neurostats/pkg/atlas"
	"neurostats/pkg/brushing"
	"neurostats/pkg/compute"
	"neurostats/pkg/dispatch"
	"neurostats/pkg/phantom"
	"neurostats/pkg/pipeline"
)

var errNoResult = errors.New("analysis produced no result, see the log for details")

// PhantomOptions are the flags shared by the phantom subcommands
type PhantomOptions struct {
	Subjects    int
	Seed        uint64
	Noise       float64
	GroupEffect float64
	AgeSlope    float64
	Size        []int
	Filter      []int
	Tail        string
	Method      string
	PValue      float64
}

// NewPhantomCommand creates the phantom command and its subcommands.
func NewPhantomCommand(rootOpts *RootOptions) *cobra.Command {
	po := &PhantomOptions{}
	defaults := phantom.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "phantom",
		Short: "Analyse a synthetic cohort",
		Long: `Generate a reproducible synthetic cohort and analyse it.

The cohort has two groups (a and b). Group b is brighter inside the group
region, and values inside the age region grow with the subject's age. Rows
passed to --filter are removed from the analysis through the row filter.`,
	}

	f := cmd.PersistentFlags()
	f.IntVar(&po.Subjects, "subjects", defaults.Subjects, "subjects per group")
	f.Uint64Var(&po.Seed, "seed", defaults.Seed, "random seed")
	f.Float64Var(&po.Noise, "noise", defaults.Noise, "standard deviation of the voxel noise")
	f.Float64Var(&po.GroupEffect, "group-effect", defaults.GroupEffect, "group b offset inside the group region")
	f.Float64Var(&po.AgeSlope, "age-slope", defaults.AgeSlope, "change per year inside the age region")
	f.IntSliceVar(&po.Size, "size", []int{defaults.Dims.X, defaults.Dims.Y, defaults.Dims.Z}, "grid size x,y,z")
	f.IntSliceVar(&po.Filter, "filter", nil, "table rows to filter out")
	f.StringVar(&po.Tail, "tail", "", "tail test (two-tailed|greater|less), overrides the configuration")
	f.StringVar(&po.Method, "method", "", "correlation method (pearson|spearman), overrides the configuration")
	f.Float64Var(&po.PValue, "pvalue", 0, "significance threshold, overrides the configuration")

	cmd.AddCommand(newPhantomTTestCommand(rootOpts, po))
	cmd.AddCommand(newPhantomCorrelateCommand(rootOpts, po))
	cmd.AddCommand(newPhantomRegionsCommand(rootOpts, po))
	cmd.AddCommand(newPhantomMeanCommand(rootOpts, po))
	return cmd
}

// study is a generated cohort with its atlas, ready to be analysed
type study struct {
	cohort *phantom.Cohort
	atlas  *atlas.Atlas
	params pipeline.Parameters
	net    *pipeline.Network
	logger *zap.Logger
	filter []int
}

func (po *PhantomOptions) study(rootOpts *RootOptions) (*study, error) {
	if err := rootOpts.load(); err != nil {
		return nil, err
	}
	cfg := rootOpts.Config

	if len(po.Size) != 3 {
		return nil, fmt.Errorf("--size needs 3 values, got %d", len(po.Size))
	}
	opts := phantom.DefaultOptions()
	opts.Dims = models.Dims{X: po.Size[0], Y: po.Size[1], Z: po.Size[2]}
	opts.Subjects = po.Subjects
	opts.Seed = po.Seed
	opts.Noise = po.Noise
	opts.GroupEffect = po.GroupEffect
	opts.AgeSlope = po.AgeSlope
	c, err := phantom.New(opts)
	if err != nil {
		return nil, wrap("phantom", err)
	}
	a, err := atlas.New(c.Atlas, c.Labels)
	if err != nil {
		return nil, wrap("phantom atlas", err)
	}

	params := pipeline.Parameters{
		PValue:        cfg.Analysis.PValue,
		Tail:          cfg.Analysis.TailTest,
		Method:        cfg.Analysis.CorrelationMethod,
		EqualVariance: cfg.Analysis.EqualVariance,
	}
	if po.Tail != "" {
		if err := params.Tail.UnmarshalText([]byte(po.Tail)); err != nil {
			return nil, err
		}
	}
	if po.Method != "" {
		if err := params.Method.UnmarshalText([]byte(po.Method)); err != nil {
			return nil, err
		}
	}
	if po.PValue != 0 {
		params.PValue = po.PValue
	}

	pool := dispatch.NewPool(cfg.Processing.NumWorkers, rootOpts.Logger)
	return &study{
		cohort: c,
		atlas:  a,
		params: params,
		net:    pipeline.NewNetwork(pool, cfg.SweepOptions(), rootOpts.Logger),
		logger: rootOpts.Logger,
		filter: po.Filter,
	}, nil
}

// run applies the row filter and the given events, then waits for every
// processor to deliver
func (s *study) run(events ...brushing.Event) error {
	start := time.Now()
	if len(s.filter) > 0 {
		events = append([]brushing.Event{{
			Target: brushing.Rows, Action: brushing.Filter, Source: "cli", Indices: s.filter,
		}}, events...)
	}
	for _, e := range events {
		if err := s.net.Apply(e); err != nil {
			return err
		}
	}
	err := s.net.Process()
	s.net.Settle()
	if err != nil {
		return err
	}
	s.logger.Info("analysis finished",
		zap.Int("subjects", len(s.cohort.Volumes)), zap.Int("filtered", len(s.filter)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func newPhantomTTestCommand(rootOpts *RootOptions, po *PhantomOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ttest",
		Short: "Compare group a with group b voxel by voxel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := po.study(rootOpts)
			if err != nil {
				return err
			}
			defer rootOpts.sync()

			p := pipeline.NewTTestProcessor(s.net, "ttest")
			p.SetCohort(s.cohort.Volumes, s.cohort.Table, rootOpts.Config.Analysis.KeyColumn)
			p.SetGroups("group", "a", "b")
			p.SetParameters(s.params)
			if err := s.run(); err != nil {
				return err
			}
			if p.Output() == nil {
				return fmt.Errorf("t-test produced no result: a group is empty after filtering")
			}

			title := fmt.Sprintf("T-test a vs b (%s, p < %g)", s.params.Tail, s.params.PValue)
			return writeVolumeSummary(cmd.OutOrStdout(), title, p.Output(), s.atlas)
		},
	}
}

func newPhantomCorrelateCommand(rootOpts *RootOptions, po *PhantomOptions) *cobra.Command {
	var column string
	var brainMask bool
	var regions []int

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Correlate a table column with every voxel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := po.study(rootOpts)
			if err != nil {
				return err
			}
			defer rootOpts.sync()

			col := s.cohort.Table.ColumnIndex(column)
			if col < 0 {
				return fmt.Errorf("column %q: %w", column, models.ErrMissingColumn)
			}

			p := pipeline.NewCorrelationProcessor(s.net, "correlation")
			p.SetCohort(s.cohort.Volumes, s.cohort.Table)
			p.SetParameters(s.params)

			events := []brushing.Event{{Target: brushing.Columns, Action: brushing.Select, Source: "cli", Indices: []int{col}}}
			switch {
			case len(regions) > 0:
				p.SetMask(s.cohort.Atlas, true)
				events = append(events, brushing.Event{Target: brushing.Regions, Action: brushing.Select, Source: "cli", Indices: regions})
			case brainMask:
				mask, err := compute.BrainMask(s.cohort.Volumes, nil)
				if err != nil {
					return err
				}
				p.SetMask(mask, false)
			}
			if err := s.run(events...); err != nil {
				return err
			}

			if p.Output() == nil {
				return errNoResult
			}
			title := fmt.Sprintf("%s correlation with %s (%s, p < %g)", s.params.Method, column, s.params.Tail, s.params.PValue)
			return writeVolumeSummary(cmd.OutOrStdout(), title, p.Output(), s.atlas)
		},
	}
	cmd.Flags().StringVar(&column, "column", "age", "table column to correlate")
	cmd.Flags().BoolVar(&brainMask, "brain-mask", false, "only analyse voxels that are non-zero in some subject")
	cmd.Flags().IntSliceVar(&regions, "regions", nil, "only analyse voxels inside these atlas regions")
	return cmd
}

func newPhantomRegionsCommand(rootOpts *RootOptions, po *PhantomOptions) *cobra.Command {
	var regions []int
	var output, centers string

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Summarise the correlation of every numeric column per atlas region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := po.study(rootOpts)
			if err != nil {
				return err
			}
			defer rootOpts.sync()

			p := pipeline.NewRegionCorrelationProcessor(s.net, "regions")
			p.SetCohort(s.cohort.Volumes, s.cohort.Table)
			p.SetAtlas(s.atlas)
			p.SetParameters(s.params)
			if err := s.run(brushing.Event{Target: brushing.Regions, Action: brushing.Select, Source: "cli", Indices: regions}); err != nil {
				return err
			}

			if p.Output() == nil {
				return errNoResult
			}
			mask, err := s.atlas.Mask(s.cohort.Volumes[0], brushing.NewIndexSet(regions...))
			if err != nil {
				return err
			}
			selected := 0
			for _, bits := range mask.Data.(models.Buffer[uint8]) {
				if bits&atlas.MaskSelection != 0 {
					selected++
				}
			}
			s.logger.Info("region selection", zap.Ints("regions", regions), zap.Int("voxels", selected))

			dir := rootOpts.Config.Output.Directory
			if err := writeTo(outputPath(dir, output), cmd.OutOrStdout(), p.Output().WriteCSV); err != nil {
				return err
			}
			if centers != "" {
				return writeTo(outputPath(dir, centers), cmd.OutOrStdout(), func(w io.Writer) error {
					return atlas.WriteCenters(w, s.atlas.Centers())
				})
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&regions, "regions", []int{phantom.GroupRegion, phantom.AgeRegion}, "atlas regions to include")
	cmd.Flags().StringVarP(&output, "output", "o", "", "summary CSV file (default stdout)")
	cmd.Flags().StringVar(&centers, "centers", "", "also write region centers to this CSV file")
	return cmd
}

func newPhantomMeanCommand(rootOpts *RootOptions, po *PhantomOptions) *cobra.Command {
	var stdDev bool

	cmd := &cobra.Command{
		Use:   "mean",
		Short: "Average the unfiltered subject volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := po.study(rootOpts)
			if err != nil {
				return err
			}
			defer rootOpts.sync()

			p := pipeline.NewMeanProcessor(s.net, "mean")
			p.SetVolumes(s.cohort.Volumes, s.cohort.Table, rootOpts.Config.Analysis.KeyColumn)
			if err := s.run(); err != nil {
				return err
			}

			if p.Output() == nil {
				return errNoResult
			}
			out := cmd.OutOrStdout()
			writeRegionMeans(out, "Mean", p.Output(), s.atlas)
			if !stdDev {
				return nil
			}
			_, spread, err := compute.SequenceMeanVariance(s.cohort.Volumes, true, nil, nil, rootOpts.Config.SweepOptions())
			if err != nil {
				return err
			}
			writeRegionMeans(out, "Standard deviation (all subjects)", spread, s.atlas)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdDev, "stddev", false, "also print the voxelwise standard deviation")
	return cmd
}

// outputPath places relative file names in the configured output directory
func outputPath(dir, name string) string {
	if name == "" || dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// writeTo calls write with the named file, or with fallback when path is empty
func writeTo(path string, fallback io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(fallback)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeVolumeSummary prints how many voxels of each region hold a significant value
func writeVolumeSummary(w io.Writer, title string, v *models.Volume, a *atlas.Atlas) error {
	significant := 0
	lo, hi := math.Inf(1), math.Inf(-1)
	perRegion := make(map[int]int)
	for i := 0; i < v.Dims.Voxels(); i++ {
		x := v.ValueAt(i)
		if x == 0 {
			continue
		}
		significant++
		lo, hi = math.Min(lo, x), math.Max(hi, x)
		perRegion[int(a.Volume().ValueAt(i))]++
	}

	fmt.Fprintf(w, "%s: %d significant voxels\n", title, significant)
	if significant > 0 {
		fmt.Fprintf(w, "  range [%.4g, %.4g]\n", lo, hi)
	}
	sizes := regionSizes(a)
	for _, l := range a.Labels() {
		fmt.Fprintf(w, "  %-14s %5d / %d\n", l.Name, perRegion[l.ID], sizes[l.ID])
	}
	return nil
}

// writeRegionMeans prints the average of v over each region
func writeRegionMeans(w io.Writer, title string, v *models.Volume, a *atlas.Atlas) {
	sums := make(map[int]float64)
	for i := 0; i < v.Dims.Voxels(); i++ {
		sums[int(a.Volume().ValueAt(i))] += v.ValueAt(i)
	}
	sizes := regionSizes(a)
	fmt.Fprintf(w, "%s:\n", title)
	for _, l := range a.Labels() {
		if sizes[l.ID] == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-14s %10.4f\n", l.Name, sums[l.ID]/float64(sizes[l.ID]))
	}
}

func regionSizes(a *atlas.Atlas) map[int]int {
	sizes := make(map[int]int)
	for i := 0; i < a.Volume().Dims.Voxels(); i++ {
		sizes[int(a.Volume().ValueAt(i))]++
	}
	return sizes
}
