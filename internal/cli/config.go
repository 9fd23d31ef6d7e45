package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"neurostats/pkg/config"
)

// ErrExists is returned by config init when the file is already there
var ErrExists = errors.New("file already exists")

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = DefaultConfigPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w (use --force to overwrite)", path, ErrExists)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.load(); err != nil {
				return err
			}
			cfg := rootOpts.Config
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pValue:            %g\n", cfg.Analysis.PValue)
			fmt.Fprintf(out, "tailTest:          %s\n", cfg.Analysis.TailTest)
			fmt.Fprintf(out, "correlationMethod: %s\n", cfg.Analysis.CorrelationMethod)
			fmt.Fprintf(out, "equalVariance:     %t\n", bool(cfg.Analysis.EqualVariance))
			fmt.Fprintf(out, "keyColumn:         %s\n", cfg.Analysis.KeyColumn)
			fmt.Fprintf(out, "numWorkers:        %d\n", cfg.Processing.NumWorkers)
			fmt.Fprintf(out, "sweepWorkers:      %d\n", cfg.Processing.SweepWorkers)
			fmt.Fprintf(out, "progressInterval:  %s\n", cfg.Processing.ProgressInterval)
			return nil
		},
	}
}
