package lmm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type VCOptions struct {
	Prior     Prior
	REML      bool
	Method    Method
	Optimizer Optimizer
}

func (o VCOptions) optimizer() Optimizer {
	if o.Optimizer == nil {
		return DefaultBrent
	}
	return o.Optimizer
}

func (o VCOptions) wls() WLSOptions {
	return WLSOptions{Prior: o.Prior, REML: o.REML, LogLik: true, Method: o.Method}
}

// VCEstimate is a fitted variance component model on rotated data.
// Warning is a *ConvergenceWarning when the optimizer stopped early.
type VCEstimate struct {
	B         []float64
	Sigma2    float64
	H2        float64
	LogLik    float64
	RSS       float64
	Converged bool
	Warning   error
}

// FitVC estimates the heritability of rotated data y, X with kinship
// eigenvalues lambda by maximizing the (restricted) likelihood, then refits
// the fixed effects at the optimum.
func FitVC(y mat.Vector, X mat.Matrix, lambda []float64, opts VCOptions) (VCEstimate, error) {
	n := y.Len()
	xr, _ := dims(X, n)
	if xr != n || len(lambda) != n {
		return VCEstimate{}, dimErr("y has %d rows, X has %d, lambda has %d", n, xr, len(lambda))
	}
	wopts := opts.wls()
	objective := func(h2 float64) float64 {
		fit, err := WLS(y, X, makeWeights(h2, lambda), wopts)
		if err != nil {
			return math.Inf(1)
		}
		return -fit.LogLik
	}

	opt := opts.optimizer().Minimize(objective)
	if math.IsInf(opt.F, 1) || math.IsNaN(opt.F) || math.IsNaN(opt.X) {
		// Surface the underlying failure when there is one.
		if _, err := WLS(y, X, makeWeights(0, lambda), wopts); err != nil {
			return VCEstimate{}, err
		}
		return VCEstimate{}, numErr("likelihood is not finite for any heritability")
	}

	h2 := clip01(opt.X)
	fit, err := WLS(y, X, makeWeights(h2, lambda), wopts)
	if err != nil {
		return VCEstimate{}, err
	}
	est := VCEstimate{
		B:         fit.B,
		Sigma2:    fit.Sigma2,
		H2:        h2,
		LogLik:    fit.LogLik,
		RSS:       fit.RSS,
		Converged: opt.Converged,
	}
	if !opt.Converged {
		est.Warning = &ConvergenceWarning{Iterations: opt.Evaluations, H2: h2, Marker: -1}
	}
	return est, nil
}
