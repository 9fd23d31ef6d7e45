// Package config loads the neurostats settings from YAML, falling back to
// defaults for anything the file leaves out.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"neurostats/pkg/compute"
	"neurostats/pkg/stats"
)

// ErrInvalid is returned by Validate for out-of-range settings
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Analysis parameters shared by the statistical processors
	Analysis struct {
		// PValue is the significance threshold; voxels with p >= PValue are written as 0
		PValue float64 `yaml:"pValue"`

		// TailTest is the alternative hypothesis: two-tailed, greater or less
		TailTest stats.TailTest `yaml:"tailTest"`

		// CorrelationMethod is pearson or spearman
		CorrelationMethod stats.CorrelationMethod `yaml:"correlationMethod"`

		// EqualVariance selects Student's pooled t-test instead of Welch's
		EqualVariance stats.EqualVariance `yaml:"equalVariance"`

		// KeyColumn is the sample table column matched against volume ids
		KeyColumn string `yaml:"keyColumn"`
	} `yaml:"analysis"`

	// Processing parameters
	Processing struct {
		// NumWorkers is how many jobs may run at the same time
		NumWorkers int `yaml:"numWorkers"`

		// SweepWorkers is how many goroutines share the voxels of one job
		SweepWorkers int `yaml:"sweepWorkers"`

		// ProgressInterval is the minimum time between progress reports
		ProgressInterval time.Duration `yaml:"progressInterval"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// Directory receives exported tables
		Directory string `yaml:"directory"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Analysis.PValue = 0.05
	cfg.Analysis.TailTest = stats.TwoTailed
	cfg.Analysis.CorrelationMethod = stats.Pearson
	cfg.Analysis.EqualVariance = stats.No
	cfg.Analysis.KeyColumn = "filename"

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.SweepWorkers = 1
	cfg.Processing.ProgressInterval = compute.DefaultProgressInterval

	cfg.Output.Verbose = false
	cfg.Output.Directory = "."

	return cfg
}

// Validate checks that the settings are usable
func (c *Config) Validate() error {
	if p := c.Analysis.PValue; !(p > 0 && p <= 0.5) {
		return fmt.Errorf("pValue %v must be in (0, 0.5]: %w", p, ErrInvalid)
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("numWorkers %d must be at least 1: %w", c.Processing.NumWorkers, ErrInvalid)
	}
	if c.Processing.SweepWorkers < 1 {
		return fmt.Errorf("sweepWorkers %d must be at least 1: %w", c.Processing.SweepWorkers, ErrInvalid)
	}
	if c.Processing.ProgressInterval < 0 {
		return fmt.Errorf("progressInterval %v is negative: %w", c.Processing.ProgressInterval, ErrInvalid)
	}
	return nil
}

// SweepOptions returns the execution options for a single sweep
func (c *Config) SweepOptions() compute.Options {
	return compute.Options{
		Workers:          c.Processing.SweepWorkers,
		ProgressInterval: c.Processing.ProgressInterval,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
// A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories as needed
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", configPath, err)
	}
	return nil
}

// CreateDefaultConfigFile writes the default configuration to configPath
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
