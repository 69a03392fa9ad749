package lmm

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"
)

// Assumption selects how variance components are treated across markers.
type Assumption int

const (
	// Null estimates the variance components once under the null model and
	// holds them fixed for every marker.
	Null Assumption = iota
	// Alt re-estimates the variance components with each marker included.
	Alt
)

func (a Assumption) String() string {
	switch a {
	case Null:
		return "null"
	case Alt:
		return "alt"
	default:
		return "unknown"
	}
}

type ScanConfig struct {
	AddIntercept bool
	// Covariates are extra fixed effects (N rows) shared by every model.
	Covariates mat.Matrix
	REML       bool
	Assumption Assumption
	Method     Method
	Prior      Prior
	Optimizer  Optimizer
	NumThreads int
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		AddIntercept: true,
		Assumption:   Null,
		Method:       QR,
		Prior:        DefaultPrior,
		Optimizer:    DefaultBrent,
		NumThreads:   runtime.GOMAXPROCS(0),
	}
}

func (c ScanConfig) vcOptions() VCOptions {
	return VCOptions{Prior: c.Prior, REML: c.REML, Method: c.Method, Optimizer: c.Optimizer}
}

// ScanResult holds the null model variance components and one LOD score per
// marker in input column order. PVE is only set under the Alt assumption.
// A failed marker has NaN in LOD (and PVE) and its error in Failed.
type ScanResult struct {
	Sigma2   float64
	H2       float64
	LOD      []float64
	PVE      []float64
	Failed   []error
	Warnings []error
}

// NumFailed counts markers without a LOD score.
func (r ScanResult) NumFailed() int {
	count := 0
	for _, err := range r.Failed {
		if err != nil {
			count++
		}
	}
	return count
}

// Scan runs a single-trait genome scan of phenotype y (N×1) against the
// markers in the columns of G (N×P) with kinship K (N×N).
func Scan(y, G, K mat.Matrix, cfg ScanConfig) (ScanResult, error) {
	yv, err := checkInputs(y, G, K, cfg.Covariates)
	if err != nil {
		return ScanResult{}, err
	}
	rot, err := Decompose(K)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanRotated(rot, yv, G, cfg)
}

// checkInputs validates shapes and returns y as a vector.
func checkInputs(y, G, K, covariates mat.Matrix) (*mat.VecDense, error) {
	if y == nil || isEmpty(G) || K == nil {
		return nil, dimErr("phenotype, genotype and kinship matrices are required")
	}
	n, yc := y.Dims()
	if yc != 1 {
		return nil, fmt.Errorf("%w: phenotype has %d columns, only single-trait scans are supported", ErrUnsupportedInput, yc)
	}
	gr, _ := G.Dims()
	kr, kc := K.Dims()
	if gr != n || kr != n || kc != n {
		return nil, dimErr("y has %d rows, G has %d, K is %dx%d", n, gr, kr, kc)
	}
	if cr, _ := dims(covariates, n); cr != n {
		return nil, dimErr("covariates have %d rows, expected %d", cr, n)
	}
	yv := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yv.SetVec(i, y.At(i, 0))
	}
	return yv, nil
}

// ScanRotated is Scan with a precomputed decomposition of the kinship
// matrix, so several phenotypes can share one decomposition.
func ScanRotated(rot *Rotation, y mat.Vector, G mat.Matrix, cfg ScanConfig) (ScanResult, error) {
	n := rot.N()
	if y.Len() != n {
		return ScanResult{}, dimErr("y has %d rows, kinship has %d", y.Len(), n)
	}
	if isEmpty(G) {
		return ScanResult{}, dimErr("no markers to scan")
	}
	if cr, _ := dims(cfg.Covariates, n); cr != n {
		return ScanResult{}, dimErr("covariates have %d rows, expected %d", cr, n)
	}
	start := time.Now()
	X0 := nullDesign(n, cfg.AddIntercept, cfg.Covariates)
	ry, err := rot.ApplyVec(y)
	if err != nil {
		return ScanResult{}, err
	}
	rX0, err := rot.Apply(X0)
	if err != nil {
		return ScanResult{}, err
	}
	rG, err := rot.Apply(G)
	if err != nil {
		return ScanResult{}, err
	}
	log.Lvl2(time.Now().Format(time.StampMilli), "Rotation done:", time.Since(start))

	var res ScanResult
	switch cfg.Assumption {
	case Null:
		res, err = scanNull(ry, rX0, rG, rot.Lambda, cfg)
	case Alt:
		res, err = scanAlt(ry, rX0, rG, rot.Lambda, cfg)
	default:
		return ScanResult{}, fmt.Errorf("%w: unknown assumption %d", ErrInvalidConfig, cfg.Assumption)
	}
	if err != nil {
		return ScanResult{}, err
	}
	if nf := res.NumFailed(); nf > 0 {
		log.Warn(fmt.Sprintf("%d of %d markers failed", nf, len(res.LOD)))
	}
	log.LLvl1(time.Now().Format(time.StampMilli), "Scan", cfg.Assumption, "done for", len(res.LOD), "markers, h2:", res.H2, "time:", time.Since(start))
	return res, nil
}

// scanNull fits the variance components once and compares residual sums of
// squares of the reweighted data with and without each marker.
func scanNull(ry *mat.VecDense, rX0, rG *mat.Dense, lambda []float64, cfg ScanConfig) (ScanResult, error) {
	n := ry.Len()
	_, m := rG.Dims()
	_, p0 := dims(rX0, n)

	vc, err := FitVC(ry, rX0, lambda, cfg.vcOptions())
	if err != nil {
		return ScanResult{}, fmt.Errorf("null model: %w", err)
	}
	log.Lvl2("Null model h2:", vc.H2, "sigma2:", vc.Sigma2)

	sqrtw := sqrtSlice(makeWeights(vc.H2, lambda))
	wy := scaleVec(ry, sqrtw)
	wG := scaleRows(rG, sqrtw)
	var wX0 *mat.Dense
	if p0 > 0 {
		wX0 = scaleRows(rX0, sqrtw)
	}
	unit := GenerateOnes(1, n, 1).RawMatrix().Data
	wopts := WLSOptions{Method: cfg.Method}

	fit0, err := WLS(wy, wX0, unit, wopts)
	if err != nil {
		return ScanResult{}, fmt.Errorf("null model: %w", err)
	}
	rss0 := fit0.RSS

	res := newScanResult(vc, m, false)
	forEachMarker(cfg.NumThreads, m, func(thread int) func(j int) {
		// Per-worker design [X0 g_j]; only the last column changes.
		design := mat.NewDense(n, p0+1, nil)
		if p0 > 0 {
			design.Slice(0, n, 0, p0).(*mat.Dense).Copy(wX0)
		}
		col := make([]float64, n)
		return func(j int) {
			mat.Col(col, j, wG)
			design.SetCol(p0, col)
			fit, err := WLS(wy, design, unit, wopts)
			if err != nil {
				res.fail(j, err)
				return
			}
			res.LOD[j] = clampLOD(lodFromRSS(n, rss0, fit.RSS))
		}
	})
	if vc.Warning != nil {
		res.Warnings = append([]error{vc.Warning}, res.Warnings...)
	}
	return res, nil
}

// scanAlt re-estimates the variance components for every marker.
func scanAlt(ry *mat.VecDense, rX0, rG *mat.Dense, lambda []float64, cfg ScanConfig) (ScanResult, error) {
	n := ry.Len()
	_, m := rG.Dims()
	_, p0 := dims(rX0, n)
	vcopts := cfg.vcOptions()

	null, err := FitVC(ry, rX0, lambda, vcopts)
	if err != nil {
		return ScanResult{}, fmt.Errorf("null model: %w", err)
	}
	log.Lvl2("Null model h2:", null.H2, "sigma2:", null.Sigma2, "loglik:", null.LogLik)

	res := newScanResult(null, m, true)
	warnings := make([]error, m)
	forEachMarker(cfg.NumThreads, m, func(thread int) func(j int) {
		design := mat.NewDense(n, p0+1, nil)
		if p0 > 0 {
			design.Slice(0, n, 0, p0).(*mat.Dense).Copy(rX0)
		}
		col := make([]float64, n)
		return func(j int) {
			mat.Col(col, j, rG)
			design.SetCol(p0, col)
			est, err := FitVC(ry, design, lambda, vcopts)
			if err != nil {
				res.fail(j, err)
				return
			}
			// The marker model evaluated at the null h2 bounds its optimum
			// from below.
			if fit, err := WLS(ry, design, makeWeights(null.H2, lambda), vcopts.wls()); err == nil && fit.LogLik > est.LogLik {
				est.H2, est.LogLik = null.H2, fit.LogLik
			}
			if cw, ok := est.Warning.(*ConvergenceWarning); ok {
				cw.Marker, cw.H2 = j, est.H2
				warnings[j] = cw
			}
			// Restricted likelihoods of models with different fixed effects
			// are not nested, so the score is floored at zero.
			res.LOD[j] = math.Max(0, (est.LogLik-null.LogLik)/math.Ln10)
			res.PVE[j] = est.H2
		}
	})
	if null.Warning != nil {
		res.Warnings = append(res.Warnings, null.Warning)
	}
	for _, w := range warnings {
		if w != nil {
			res.Warnings = append(res.Warnings, w)
		}
	}
	return res, nil
}

func newScanResult(vc VCEstimate, m int, withPVE bool) ScanResult {
	res := ScanResult{
		Sigma2: vc.Sigma2,
		H2:     vc.H2,
		LOD:    make([]float64, m),
		Failed: make([]error, m),
	}
	if withPVE {
		res.PVE = make([]float64, m)
	}
	return res
}

// fail marks marker j as unavailable. Each marker slot is owned by exactly
// one worker.
func (r ScanResult) fail(j int, err error) {
	r.LOD[j] = math.NaN()
	if r.PVE != nil {
		r.PVE[j] = math.NaN()
	}
	r.Failed[j] = fmt.Errorf("marker %d: %w", j, err)
}

// forEachMarker hands marker indices 0..m-1 to nproc workers. newTask is
// called once per worker so each can own its scratch buffers.
func forEachMarker(nproc, m int, newTask func(thread int) func(j int)) {
	if m == 0 {
		return
	}
	if nproc <= 0 {
		nproc = runtime.GOMAXPROCS(0)
	}
	if nproc > m {
		nproc = m
	}

	jobChannels := make([]chan int, nproc)
	for i := range jobChannels {
		jobChannels[i] = make(chan int, 32)
	}

	// Dispatcher
	go func() {
		for j := 0; j < m; j++ {
			jobChannels[j%nproc] <- j
		}
		for _, c := range jobChannels {
			close(c)
		}
	}()

	var workerGroup sync.WaitGroup
	for thread := 0; thread < nproc; thread++ {
		workerGroup.Add(1)
		go func(thread int) {
			defer workerGroup.Done()
			task := newTask(thread)
			for j := range jobChannels[thread] {
				task(j)
			}
		}(thread)
	}
	workerGroup.Wait()
}
