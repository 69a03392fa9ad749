package gwas

import (
	"fmt"
	"math"
	"os"
	"path"
	"sort"
	"time"

	"github.com/raulk/go-watchdog"
	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hhcho/lmmscan/lmm"
)

const (
	eigvecCacheFile = "kinship_eigvec.bin"
	eigvalCacheFile = "kinship_eigval.bin"
)

// ScanProtocol holds the inputs of one single-trait genome scan loaded from
// the files named in a Config.
type ScanProtocol struct {
	pheno   *mat.VecDense
	cov     *mat.Dense
	geno    *mat.Dense
	markers []string
	kinship mat.Matrix

	config *Config
}

// Report is what Run computed. Threshold is the genome-wide LOD threshold at
// level PermAlpha, NaN without permutations.
type Report struct {
	Scan      lmm.ScanResult
	Perms     *lmm.PermResult
	Threshold float64
}

func (g *ScanProtocol) OutFile(filename string) string {
	return path.Join(g.config.OutDir, filename)
}

func (g *ScanProtocol) MarkerName(j int) string {
	return g.markers[j]
}

func (g *ScanProtocol) CacheFile(filename string) string {
	return path.Join(g.config.CacheDir, filename)
}

func (g *ScanProtocol) CacheExists(filename string) bool {
	return g.config.CacheDir != "" && g.Exists(g.CacheFile(filename))
}

func (g *ScanProtocol) Exists(filename string) bool {
	if _, err := os.Stat(filename); err == nil {
		return true
	}
	return false
}

// InitializeScanProtocol loads the phenotype, genotypes, covariates and
// kinship matrix named in config. Without a kinship file the genetic
// relationship matrix of the genotypes is used.
func InitializeScanProtocol(config *Config) (*ScanProtocol, error) {
	log.LLvl1(time.Now().Format(time.StampMilli), "Init scan protocol")
	if config.Debug {
		log.SetDebugVisible(2)
	}
	if config.PhenoFile == "" || config.GenoFile == "" {
		return nil, fmt.Errorf("%w: pheno_file and geno_file are required", lmm.ErrInvalidConfig)
	}
	delim := config.delim()

	var samples []string
	if config.SampleFile != "" {
		var err error
		if samples, err = LoadSampleIDs(config.SampleFile); err != nil {
			return nil, err
		}
	}

	phenoAll, err := loadTable(config.PhenoFile, delim, samples)
	if err != nil {
		return nil, err
	}
	n, nc := phenoAll.Dims()
	if config.PhenoColumn < 0 || config.PhenoColumn >= nc {
		return nil, fmt.Errorf("%w: pheno_column %d, file has %d columns", lmm.ErrInvalidConfig, config.PhenoColumn, nc)
	}
	pheno := mat.VecDenseCopyOf(phenoAll.ColView(config.PhenoColumn))

	markers, geno, err := ReadBimbamFiltered(config.GenoFile, config.FilterParams())
	if err != nil {
		return nil, err
	}
	if gr, _ := geno.Dims(); gr != n {
		return nil, fmt.Errorf("%w: %d phenotypes, %d genotyped samples", lmm.ErrDimension, n, gr)
	}

	var cov *mat.Dense
	if config.CovFile != "" {
		if cov, err = loadTable(config.CovFile, delim, samples); err != nil {
			return nil, err
		}
		if cr, _ := cov.Dims(); cr != n {
			return nil, fmt.Errorf("%w: %d phenotypes, %d covariate rows", lmm.ErrDimension, n, cr)
		}
	}

	var kinship mat.Matrix
	if config.KinshipFile != "" {
		if kinship, err = LoadMatrixFromFile(config.KinshipFile, delim); err != nil {
			return nil, err
		}
	} else {
		if kinship, err = BuildKinship(geno); err != nil {
			return nil, err
		}
		log.LLvl1("Kinship built from", len(markers), "markers")
	}
	if kr, kc := kinship.Dims(); kr != n || kc != n {
		return nil, fmt.Errorf("%w: %d phenotypes, kinship is %dx%d", lmm.ErrDimension, n, kr, kc)
	}

	log.LLvl1(fmt.Sprintf("Loaded %d samples, %d markers", n, len(markers)))
	return &ScanProtocol{
		pheno:   pheno,
		cov:     cov,
		geno:    geno,
		markers: markers,
		kinship: kinship,
		config:  config,
	}, nil
}

// rotation decomposes the kinship matrix, reusing the cached decomposition
// when cache_dir holds one. The cache is only checked against the sample
// count, so it must be cleared when the kinship input changes.
func (g *ScanProtocol) rotation() (*lmm.Rotation, error) {
	if g.CacheExists(eigvecCacheFile) && g.CacheExists(eigvalCacheFile) {
		U, err := LoadMatDenseCacheFromFile(g.CacheFile(eigvecCacheFile))
		if err != nil {
			return nil, err
		}
		L, err := LoadMatDenseCacheFromFile(g.CacheFile(eigvalCacheFile))
		if err != nil {
			return nil, err
		}
		n, _ := g.kinship.Dims()
		if r, _ := U.Dims(); r == n && len(L.RawRowView(0)) == n {
			log.LLvl1("Loaded kinship decomposition from cache")
			return &lmm.Rotation{U: U, Lambda: L.RawRowView(0)}, nil
		}
		log.Warn("Cached kinship decomposition has the wrong size, recomputing")
	}

	start := time.Now()
	rot, err := lmm.Decompose(g.kinship)
	if err != nil {
		return nil, err
	}
	log.LLvl1(time.Now().Format(time.StampMilli), "Kinship decomposition done:", time.Since(start))

	if g.config.CacheDir != "" {
		if err := os.MkdirAll(g.config.CacheDir, 0755); err != nil {
			return nil, err
		}
		if err := SaveMatDenseToFile(rot.U, g.CacheFile(eigvecCacheFile)); err != nil {
			return nil, err
		}
		L := mat.NewDense(1, len(rot.Lambda), rot.Lambda)
		if err := SaveMatDenseToFile(L, g.CacheFile(eigvalCacheFile)); err != nil {
			return nil, err
		}
	}
	return rot, nil
}

// Run scans every marker, runs the permutation scan when num_perms is set
// and writes the results under output_dir.
func (g *ScanProtocol) Run() (*Report, error) {
	if g.config.MemoryLimit > 0 {
		err, stopFn := watchdog.HeapDriven(g.config.MemoryLimit, 40, watchdog.NewAdaptivePolicy(0.5))
		if err != nil {
			return nil, err
		}
		defer stopFn()
	}

	cfg, err := g.config.ScanConfig()
	if err != nil {
		return nil, err
	}
	if g.cov != nil {
		cfg.Covariates = g.cov
	}
	if err := os.MkdirAll(g.config.OutDir, 0755); err != nil {
		return nil, err
	}

	rot, err := g.rotation()
	if err != nil {
		return nil, err
	}

	res, err := lmm.ScanRotated(rot, g.pheno, g.geno, cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		log.Warn(w)
	}
	for rank, j := range TopMarkers(res.LOD, 5) {
		log.Lvl2(fmt.Sprintf("#%d %s LOD %.4f", rank+1, g.markers[j], res.LOD[j]))
	}
	report := &Report{Scan: res, Threshold: math.NaN()}

	if err := SaveMarkerTable(g.OutFile("lod.txt"), g.markers, res.LOD); err != nil {
		return nil, err
	}
	if res.PVE != nil {
		if err := SaveMarkerTable(g.OutFile("pve.txt"), g.markers, res.PVE); err != nil {
			return nil, err
		}
	}
	if err := g.saveVC(res.Sigma2, res.H2); err != nil {
		return nil, err
	}

	if g.config.NumPerms > 0 {
		pcfg, err := g.config.PermConfig()
		if err != nil {
			return nil, err
		}
		if g.cov != nil {
			pcfg.Covariates = g.cov
		}
		pcfg.Lite = g.config.PermLite
		perms, err := lmm.ScanPermsRotated(rot, g.pheno, g.geno, pcfg)
		if err != nil {
			return nil, err
		}
		report.Perms = &perms
		if err := SaveMatrixToFile(perms.LOD, g.OutFile("perm_lod.txt"), g.config.delim()); err != nil {
			return nil, err
		}

		maxima := PermutationMaxima(perms.LOD, g.config.NumPerms)
		if err := SaveFloatVectorToFile(g.OutFile("perm_max.txt"), maxima); err != nil {
			return nil, err
		}
		report.Threshold = LODThreshold(maxima, g.config.PermAlpha)
		log.LLvl1(fmt.Sprintf("Genome-wide LOD threshold at alpha %g: %.4f", g.config.PermAlpha, report.Threshold))
	}
	return report, nil
}

func (g *ScanProtocol) saveVC(sigma2, h2 float64) error {
	f, err := os.Create(g.OutFile("vc.txt"))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "sigma2\t%.6e\nh2\t%.6e\n", sigma2, h2)
	return err
}

// PermutationMaxima returns the largest finite LOD of each of the first
// nperms rows of lod.
func PermutationMaxima(lod *mat.Dense, nperms int) []float64 {
	out := make([]float64, nperms)
	for k := range out {
		row := lod.RawRowView(k)
		best := math.Inf(-1)
		for _, v := range row {
			if !math.IsNaN(v) && v > best {
				best = v
			}
		}
		out[k] = best
	}
	return out
}

// LODThreshold is the empirical 1-alpha quantile of the permutation maxima.
func LODThreshold(maxima []float64, alpha float64) float64 {
	if len(maxima) == 0 || !(alpha > 0 && alpha < 1) {
		return math.NaN()
	}
	sorted := make([]float64, len(maxima))
	copy(sorted, maxima)
	sort.Float64s(sorted)
	return stat.Quantile(1-alpha, stat.Empirical, sorted, nil)
}

// TopMarkers returns the indices of the k highest LOD scores, failed markers
// excluded.
func TopMarkers(lod []float64, k int) []int {
	negLOD := make([]float64, 0, len(lod))
	marker := make([]int, 0, len(lod))
	for j, v := range lod {
		if !math.IsNaN(v) {
			negLOD = append(negLOD, -v)
			marker = append(marker, j)
		}
	}
	order := make([]int, len(negLOD))
	floats.Argsort(negLOD, order)
	if k > len(order) {
		k = len(order)
	}
	if k < 0 {
		k = 0
	}
	top := make([]int, k)
	for i := range top {
		top[i] = marker[order[i]]
	}
	return top
}
