package lmm

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhcho/lmmscan/rng"
)

type PermConfig struct {
	ScanConfig
	NPerms int
	Seed   uint64
	// IncludeOriginal appends the unpermuted residuals as the last row.
	IncludeOriginal bool
	// Lite scores markers by the squared correlation of unit-normalized
	// residuals and markers.
	Lite bool
}

func DefaultPermConfig() PermConfig {
	return PermConfig{
		ScanConfig:      DefaultScanConfig(),
		NPerms:          1024,
		IncludeOriginal: true,
	}
}

// PermResult holds an (NPerms[+1])×P matrix of LOD scores under permuted
// residuals. Row k < NPerms uses Permutations[k]; with IncludeOriginal the
// last row is the unpermuted scan. Columns of failed markers are NaN.
type PermResult struct {
	LOD          *mat.Dense
	Permutations [][]int
	Sigma2       float64
	H2           float64
	Failed       []error
	Warnings     []error
}

// permData is the shared read-only state of a permutation scan.
type permData struct {
	r0     []float64  // reweighted null residuals
	x00    *mat.Dense // reweighted markers, residualized on the null design
	xnorm2 []float64
	rss0   float64
	failed []error
	vc     VCEstimate
}

// ScanPerms computes LOD scores of every marker against permutations of the
// reweighted null model residuals. The variance components are fitted once;
// each permutation's alternative RSS follows from a single matrix product.
func ScanPerms(y, G, K mat.Matrix, cfg PermConfig) (PermResult, error) {
	cfg.Lite = false
	return scanPerms(y, G, K, cfg)
}

// ScanPermsLite is ScanPerms computing LOD scores from the squared
// correlation of unit-normalized residuals and markers.
func ScanPermsLite(y, G, K mat.Matrix, cfg PermConfig) (PermResult, error) {
	cfg.Lite = true
	return scanPerms(y, G, K, cfg)
}

func (cfg PermConfig) validate() error {
	if cfg.NPerms < 0 {
		return fmt.Errorf("%w: negative number of permutations %d", ErrInvalidConfig, cfg.NPerms)
	}
	if cfg.NPerms == 0 && !cfg.IncludeOriginal {
		return fmt.Errorf("%w: zero permutations requested without the original data", ErrInvalidConfig)
	}
	if cfg.Assumption != Null {
		return fmt.Errorf("%w: permutation scans require the %s assumption", ErrInvalidConfig, Null)
	}
	return nil
}

func scanPerms(y, G, K mat.Matrix, cfg PermConfig) (PermResult, error) {
	if err := cfg.validate(); err != nil {
		return PermResult{}, err
	}
	yv, err := checkInputs(y, G, K, cfg.Covariates)
	if err != nil {
		return PermResult{}, err
	}
	rot, err := Decompose(K)
	if err != nil {
		return PermResult{}, err
	}
	return ScanPermsRotated(rot, yv, G, cfg)
}

// ScanPermsRotated is the permutation scan with a precomputed decomposition
// of the kinship matrix. cfg.Lite selects the scoring formula.
func ScanPermsRotated(rot *Rotation, y mat.Vector, G mat.Matrix, cfg PermConfig) (PermResult, error) {
	if err := cfg.validate(); err != nil {
		return PermResult{}, err
	}
	if y.Len() != rot.N() {
		return PermResult{}, dimErr("y has %d rows, kinship has %d", y.Len(), rot.N())
	}
	if isEmpty(G) {
		return PermResult{}, dimErr("no markers to scan")
	}
	if gr, _ := G.Dims(); gr != rot.N() {
		return PermResult{}, dimErr("G has %d rows, kinship has %d", gr, rot.N())
	}
	if cr, _ := dims(cfg.Covariates, rot.N()); cr != rot.N() {
		return PermResult{}, dimErr("covariates have %d rows, expected %d", cr, rot.N())
	}
	lite := cfg.Lite
	start := time.Now()
	data, err := preparePerms(rot, mat.VecDenseCopyOf(y), G, cfg.ScanConfig)
	if err != nil {
		return PermResult{}, err
	}
	log.Lvl2(time.Now().Format(time.StampMilli), "Permutation null model h2:", data.vc.H2, "rss0:", data.rss0)

	m := len(data.xnorm2)
	rows := cfg.NPerms
	if cfg.IncludeOriginal {
		rows++
	}
	nproc := cfg.NumThreads
	if nproc <= 0 {
		nproc = runtime.GOMAXPROCS(0)
	}
	if nproc > rows {
		nproc = rows
	}

	src := rng.NewPermutationSource(cfg.Seed)
	perms := make([][]int, cfg.NPerms)
	lod := mat.NewDense(rows, m, nil)
	sizes, starts := AllocateAllResources(rows, nproc)

	// Wait joins the workers and returns the first block error.
	var g errgroup.Group
	g.SetLimit(nproc)
	for thread := 0; thread < nproc; thread++ {
		lo, size := starts[thread], sizes[thread]
		if size == 0 {
			continue
		}
		g.Go(func() error {
			return data.fillBlock(lod.Slice(lo, lo+size, 0, m).(*mat.Dense), src, perms, lo, lite)
		})
	}
	if err := g.Wait(); err != nil {
		return PermResult{}, err
	}

	res := PermResult{
		LOD:          lod,
		Permutations: perms,
		Sigma2:       data.vc.Sigma2,
		H2:           data.vc.H2,
		Failed:       data.failed,
	}
	if data.vc.Warning != nil {
		res.Warnings = append(res.Warnings, data.vc.Warning)
	}
	log.LLvl1(time.Now().Format(time.StampMilli), "Permutation scan done:", rows, "x", m, "lite:", lite, "time:", time.Since(start))
	return res, nil
}

// preparePerms standardizes and rotates the data, fits the null variance
// components once and returns the reweighted residuals and markers.
func preparePerms(rot *Rotation, y *mat.VecDense, G mat.Matrix, cfg ScanConfig) (*permData, error) {
	n := rot.N()
	ystd, ok := standardizeVec(y.RawVector().Data)
	if !ok {
		return nil, numErr("phenotype is constant")
	}
	gstd, gok := standardizeCols(G)
	_, m := gstd.Dims()

	ry, err := rot.ApplyVec(mat.NewVecDense(n, ystd))
	if err != nil {
		return nil, err
	}
	rX0, err := rot.Apply(nullDesign(n, cfg.AddIntercept, cfg.Covariates))
	if err != nil {
		return nil, err
	}
	rG, err := rot.Apply(gstd)
	if err != nil {
		return nil, err
	}

	vc, err := FitVC(ry, rX0, rot.Lambda, cfg.vcOptions())
	if err != nil {
		return nil, fmt.Errorf("null model: %w", err)
	}
	sqrtw := sqrtSlice(makeWeights(vc.H2, rot.Lambda))
	wy := scaleVec(ry, sqrtw)
	wG := scaleRows(rG, sqrtw)
	var wX0 *mat.Dense
	if !isEmpty(rX0) {
		wX0 = scaleRows(rX0, sqrtw)
	}

	r0, err := residualizeVec(wy, wX0)
	if err != nil {
		return nil, fmt.Errorf("null model: %w", err)
	}
	x00, err := residualize(wG, wX0)
	if err != nil {
		return nil, fmt.Errorf("null model: %w", err)
	}

	data := &permData{
		r0:     r0.RawVector().Data,
		x00:    x00,
		xnorm2: make([]float64, m),
		failed: make([]error, m),
		vc:     vc,
	}
	data.rss0 = sumSquares(data.r0)
	if !(data.rss0 > 0) {
		return nil, numErr("null model residual sum of squares is %g", data.rss0)
	}

	col := make([]float64, n)
	for j := 0; j < m; j++ {
		if !gok[j] {
			data.failed[j] = numErr("marker %d is constant", j)
			continue
		}
		mat.Col(col, j, x00)
		data.xnorm2[j] = sumSquares(col)
		if data.xnorm2[j] <= rankTol*float64(n) {
			data.failed[j] = numErr("marker %d is collinear with the null design", j)
		}
	}
	return data, nil
}

// fillBlock computes the LOD rows lo..lo+rows(dst) into dst. Rows below
// len(perms) permute r0 and record their permutation in perms; later rows
// use r0 unpermuted.
func (d *permData) fillBlock(dst *mat.Dense, src *rng.PermutationSource, perms [][]int, lo int, lite bool) error {
	size, m := dst.Dims()
	n := len(d.r0)
	if xr, xc := d.x00.Dims(); xr != n || xc != m || len(d.xnorm2) != m || len(d.failed) != m {
		return dimErr("marker block is %dx%d, expected %dx%d", xr, xc, n, m)
	}

	// Worker-owned block of permuted residual rows.
	R := mat.NewDense(size, n, nil)
	for i := 0; i < size; i++ {
		k := lo + i
		if k < len(perms) {
			perm := src.Permutation(k, n)
			perms[k] = perm
			row := R.RawRowView(i)
			for t, p := range perm {
				row[t] = d.r0[p]
			}
		} else {
			R.SetRow(i, d.r0)
		}
	}
	C := mat.NewDense(size, m, nil)
	C.Mul(R, d.x00)
	d.fillLOD(dst, C, R, n, lite)
	return nil
}

// fillLOD writes the LOD block for residual rows R with C = R x00.
func (d *permData) fillLOD(dst, C, R *mat.Dense, n int, lite bool) {
	rows, m := C.Dims()
	for i := 0; i < rows; i++ {
		rnorm := math.Sqrt(floats.Dot(R.RawRowView(i), R.RawRowView(i)))
		for j := 0; j < m; j++ {
			if d.failed[j] != nil {
				dst.Set(i, j, math.NaN())
				continue
			}
			c := C.At(i, j)
			var lod float64
			if lite {
				corr := c / (rnorm * math.Sqrt(d.xnorm2[j]))
				lod = -float64(n) / 2 * math.Log10(1-corr*corr)
			} else {
				// Permutation preserves the residual norm, so the null RSS is
				// rss0 for every row.
				rss1 := d.rss0 - c*c/d.xnorm2[j]
				lod = lodFromRSS(n, d.rss0, rss1)
			}
			dst.Set(i, j, clampLOD(lod))
		}
	}
}
