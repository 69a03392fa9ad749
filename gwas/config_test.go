package gwas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhcho/lmmscan/lmm"
)

func TestDecodeConfigDefaults(t *testing.T) {
	config, err := DecodeConfig(`
pheno_file = "pheno.txt"
geno_file = "geno.txt"
`)
	require.NoError(t, err)

	cfg, err := config.ScanConfig()
	require.NoError(t, err)
	assert.True(t, cfg.AddIntercept)
	assert.False(t, cfg.REML)
	assert.Equal(t, lmm.Null, cfg.Assumption)
	assert.Equal(t, lmm.QR, cfg.Method)
	assert.Equal(t, lmm.DefaultBrent, cfg.Optimizer)
	assert.Equal(t, lmm.Prior{SampleSize: 0, Variance: 1}, cfg.Prior)
	assert.Greater(t, cfg.NumThreads, 0)
	assert.Equal(t, '\t', config.delim())
}

func TestDecodeConfigScanOptions(t *testing.T) {
	config, err := DecodeConfig(`
no_intercept = true
reml = true
assumption = "alt"
method = "cholesky"
optimizer = "grid"
num_grid = 20
prior_variance = 2.0
prior_sample_size = 4.0
local_num_threads = 3
delimiter = ","
`)
	require.NoError(t, err)

	cfg, err := config.ScanConfig()
	require.NoError(t, err)
	assert.False(t, cfg.AddIntercept)
	assert.True(t, cfg.REML)
	assert.Equal(t, lmm.Alt, cfg.Assumption)
	assert.Equal(t, lmm.Cholesky, cfg.Method)
	assert.Equal(t, lmm.GridSearch{NGrid: 20}, cfg.Optimizer)
	assert.Equal(t, lmm.Prior{SampleSize: 4, Variance: 2}, cfg.Prior)
	assert.Equal(t, 3, cfg.NumThreads)
	assert.Equal(t, ',', config.delim())
}

func TestBrentIntervalFromConfig(t *testing.T) {
	config, err := DecodeConfig(`
h2_center = 0.3
h2_half_width = 0.1
`)
	require.NoError(t, err)
	cfg, err := config.ScanConfig()
	require.NoError(t, err)

	brent, ok := cfg.Optimizer.(lmm.Brent)
	require.True(t, ok)
	lo, hi := brent.Interval()
	assert.InDelta(t, 0.2, lo, 1e-12)
	assert.InDelta(t, 0.4, hi, 1e-12)
}

func TestPermConfigForcesNull(t *testing.T) {
	config, err := DecodeConfig(`
assumption = "alt"
num_perms = 50
perm_seed = 11
perm_exclude_original = true
`)
	require.NoError(t, err)

	pcfg, err := config.PermConfig()
	require.NoError(t, err)
	assert.Equal(t, lmm.Null, pcfg.Assumption)
	assert.Equal(t, 50, pcfg.NPerms)
	assert.Equal(t, uint64(11), pcfg.Seed)
	assert.False(t, pcfg.IncludeOriginal)
}

func TestInvalidConfigValues(t *testing.T) {
	for _, text := range []string{
		`assumption = "both"`,
		`method = "svd"`,
		`optimizer = "newton"`,
	} {
		config, err := DecodeConfig(text)
		require.NoError(t, err)
		_, err = config.ScanConfig()
		assert.ErrorIs(t, err, lmm.ErrInvalidConfig, text)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(filename, []byte("output_dir = \"out\"\nnum_perms = 8\n"), 0644))

	config, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "out", config.OutDir)
	assert.Equal(t, 8, config.NumPerms)
	assert.Equal(t, 0.05, config.PermAlpha)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filename, []byte("num_perms = \"many\"\n"), 0644))
	_, err = LoadConfig(filename)
	assert.Error(t, err)
}
