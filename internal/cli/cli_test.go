package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"neurostats/pkg/config"
)

func testOptions() *RootOptions {
	cfg := config.DefaultConfig()
	cfg.Processing.NumWorkers = 2
	return &RootOptions{Config: cfg, Logger: zap.NewNop()}
}

// execute runs the root command tree with args and the given options
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewPhantomCommand(opts)
	if args[0] == "config" {
		cmd = NewConfigCommand(opts)
	}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args[1:])
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "neurostats", cmd.Use)

	for _, path := range [][]string{
		{"config", "init"}, {"config", "show"},
		{"phantom", "ttest"}, {"phantom", "correlate"}, {"phantom", "regions"}, {"phantom", "mean"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, DefaultConfigPath, configFlag.DefValue)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neurostats.yaml")
	opts := &RootOptions{ConfigPath: path}

	out, err := execute(t, opts, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), loaded)

	_, err = execute(t, opts, "config", "init")
	assert.ErrorIs(t, err, ErrExists)

	_, err = execute(t, opts, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestConfigShowReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neurostats.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  tailTest: less\n"), 0644))

	out, err := execute(t, &RootOptions{ConfigPath: path, Logger: zap.NewNop()}, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "tailTest:          less")
}

func TestPhantomTTest(t *testing.T) {
	out, err := execute(t, testOptions(), "phantom", "ttest", "--size", "12,12,4")
	require.NoError(t, err)
	assert.Contains(t, out, "T-test a vs b (two-tailed, p < 0.05)")
	assert.Contains(t, out, "group_region")
	assert.Contains(t, out, "range [")
}

func TestPhantomTTestEmptyGroup(t *testing.T) {
	_, err := execute(t, testOptions(), "phantom", "ttest", "--size", "8,8,2", "--subjects", "2", "--filter", "0,1")
	assert.Error(t, err)
}

func TestPhantomCorrelate(t *testing.T) {
	out, err := execute(t, testOptions(), "phantom", "correlate", "--size", "12,12,4", "--method", "spearman", "--regions", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "spearman correlation with age")

	_, err = execute(t, testOptions(), "phantom", "correlate", "--size", "8,8,2", "--column", "height")
	assert.Error(t, err)
}

func TestPhantomRegions(t *testing.T) {
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.csv")
	centers := filepath.Join(dir, "centers.csv")

	_, err := execute(t, testOptions(), "phantom", "regions", "--size", "12,12,4",
		"--output", summary, "--centers", centers)
	require.NoError(t, err)

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header plus the age and score rows")
	assert.True(t, strings.HasPrefix(lines[0], "Parameter,Median_correlation"))
	assert.True(t, strings.HasPrefix(lines[1], "age,"))

	data, err = os.ReadFile(centers)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Region index,Center x"))
}

func TestPhantomMean(t *testing.T) {
	out, err := execute(t, testOptions(), "phantom", "mean", "--size", "8,8,2", "--stddev")
	require.NoError(t, err)
	assert.Contains(t, out, "Mean:")
	assert.Contains(t, out, "Standard deviation")
	assert.Contains(t, out, "brain")
}

func TestPhantomRejectsBadFlags(t *testing.T) {
	_, err := execute(t, testOptions(), "phantom", "mean", "--size", "8,8")
	assert.Error(t, err)

	_, err = execute(t, testOptions(), "phantom", "ttest", "--tail", "sideways")
	assert.Error(t, err)
}
