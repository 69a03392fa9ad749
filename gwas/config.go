package gwas

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hhcho/lmmscan/lmm"
)

type Config struct {
	PhenoFile   string `toml:"pheno_file"`
	PhenoColumn int    `toml:"pheno_column"`
	GenoFile    string `toml:"geno_file"`
	CovFile     string `toml:"covar_file"`
	// One identifier per genotype column. When set, the phenotype and
	// covariate files carry the identifier in their first column and are
	// aligned to this order.
	SampleFile string `toml:"sample_file"`
	// Built from the genotypes when empty.
	KinshipFile string `toml:"kinship_file"`
	Delimiter   string `toml:"delimiter"`

	MafLowerBound float64 `toml:"maf_lower_bound"`
	GenoMissBound float64 `toml:"geno_miss_bound"`

	NoIntercept     bool    `toml:"no_intercept"`
	REML            bool    `toml:"reml"`
	Assumption      string  `toml:"assumption"`
	Method          string  `toml:"method"`
	Optimizer       string  `toml:"optimizer"`
	NumGrid         int     `toml:"num_grid"`
	H2Center        float64 `toml:"h2_center"`
	H2HalfWidth     float64 `toml:"h2_half_width"`
	PriorVariance   float64 `toml:"prior_variance"`
	PriorSampleSize float64 `toml:"prior_sample_size"`

	NumPerms            int     `toml:"num_perms"`
	PermSeed            int64   `toml:"perm_seed"`
	PermLite            bool    `toml:"perm_lite"`
	PermExcludeOriginal bool    `toml:"perm_exclude_original"`
	PermAlpha           float64 `toml:"perm_alpha"`

	OutDir string `toml:"output_dir"`
	// Kinship eigendecompositions are cached here when set.
	CacheDir        string `toml:"cache_dir"`
	LocalNumThreads int    `toml:"local_num_threads"`
	MemoryLimit     uint64 `toml:"memory_limit"`

	Debug bool `toml:"debug"`
}

// DefaultConfig returns the settings used for keys missing from a config
// file.
func DefaultConfig() *Config {
	return &Config{
		Delimiter:     "\t",
		GenoMissBound: 1,
		Assumption:    "null",
		Method:        "qr",
		Optimizer:     "brent",
		NumGrid:       100,
		H2Center:      0.5,
		H2HalfWidth:   0.5,
		PriorVariance: 1,
		PermAlpha:     0.05,
		OutDir:        ".",
	}
}

// LoadConfig decodes a TOML file on top of DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(filename, config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return config, nil
}

// DecodeConfig is LoadConfig for TOML text.
func DecodeConfig(data string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.Decode(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

func ParseAssumption(s string) (lmm.Assumption, error) {
	switch strings.ToLower(s) {
	case "", "null":
		return lmm.Null, nil
	case "alt":
		return lmm.Alt, nil
	}
	return 0, fmt.Errorf("%w: assumption %q", lmm.ErrInvalidConfig, s)
}

func ParseMethod(s string) (lmm.Method, error) {
	switch strings.ToLower(s) {
	case "", "qr":
		return lmm.QR, nil
	case "cholesky":
		return lmm.Cholesky, nil
	}
	return 0, fmt.Errorf("%w: method %q", lmm.ErrInvalidConfig, s)
}

func (config *Config) optimizer() (lmm.Optimizer, error) {
	switch strings.ToLower(config.Optimizer) {
	case "", "brent":
		b := lmm.DefaultBrent
		b.Center, b.HalfWidth = config.H2Center, config.H2HalfWidth
		return b, nil
	case "grid":
		return lmm.GridSearch{NGrid: config.NumGrid}, nil
	}
	return nil, fmt.Errorf("%w: optimizer %q", lmm.ErrInvalidConfig, config.Optimizer)
}

// ScanConfig resolves the string valued settings of the file into the scan
// options of package lmm.
func (config *Config) ScanConfig() (lmm.ScanConfig, error) {
	cfg := lmm.DefaultScanConfig()
	var err error
	if cfg.Assumption, err = ParseAssumption(config.Assumption); err != nil {
		return cfg, err
	}
	if cfg.Method, err = ParseMethod(config.Method); err != nil {
		return cfg, err
	}
	if cfg.Optimizer, err = config.optimizer(); err != nil {
		return cfg, err
	}
	cfg.AddIntercept = !config.NoIntercept
	cfg.REML = config.REML
	cfg.Prior = lmm.Prior{SampleSize: config.PriorSampleSize, Variance: config.PriorVariance}
	cfg.NumThreads = config.LocalNumThreads
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.GOMAXPROCS(0)
	}
	return cfg, nil
}

// PermConfig is ScanConfig plus the permutation settings. The permutation
// engine always holds the variance components at their null estimate.
func (config *Config) PermConfig() (lmm.PermConfig, error) {
	scan, err := config.ScanConfig()
	if err != nil {
		return lmm.PermConfig{}, err
	}
	scan.Assumption = lmm.Null
	return lmm.PermConfig{
		ScanConfig:      scan,
		NPerms:          config.NumPerms,
		Seed:            uint64(config.PermSeed),
		IncludeOriginal: !config.PermExcludeOriginal,
	}, nil
}

func (config *Config) FilterParams() *FilterParams {
	return &FilterParams{MafLowerBound: config.MafLowerBound, GenoMissBound: config.GenoMissBound}
}

func (config *Config) delim() rune {
	if config.Delimiter == "" {
		return '\t'
	}
	return []rune(config.Delimiter)[0]
}
