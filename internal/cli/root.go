// Package cli implements the neurostats command line
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"neurostats/pkg/config"
	"neurostats/pkg/logging"
)

// DefaultConfigPath is used when --config is not given
const DefaultConfigPath = "neurostats.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// Config and Logger are filled by load. Tests may set them directly.
	Config *config.Config
	Logger *zap.Logger
}

// load reads the configuration file and builds the logger, once
func (o *RootOptions) load() error {
	if o.Config == nil {
		path := o.ConfigPath
		if path == "" {
			path = DefaultConfigPath
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		if o.Verbose {
			cfg.Output.Verbose = true
		}
		o.Config = cfg
	}
	if o.Logger == nil {
		logger, err := logging.New(o.Config.Output.Verbose)
		if err != nil {
			return err
		}
		o.Logger = logger
	}
	return nil
}

// NewRootCommand creates the root command for the neurostats CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "neurostats",
		Short: "Voxelwise statistics over volume ensembles",
		Long: `Voxelwise statistical analysis of volume ensembles.

Runs two-sample t-tests, parameter correlations and per-region correlation
summaries across subject volumes, with brushing filters applied to the
subject table.`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewPhantomCommand(opts))

	return cmd
}

// sync flushes the logger, ignoring the error stderr reports on some platforms
func (o *RootOptions) sync() {
	if o.Logger != nil {
		_ = o.Logger.Sync()
	}
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
