package lmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Method selects the factorization used to solve the weighted normal
// equations.
type Method int

const (
	QR Method = iota
	Cholesky
)

func (m Method) String() string {
	switch m {
	case QR:
		return "qr"
	case Cholesky:
		return "cholesky"
	default:
		return "unknown"
	}
}

const rankTol = 1e-10

// Prior is a scaled inverse chi-square prior on the residual variance with
// SampleSize pseudo-observations of variance Variance. The zero SampleSize
// disables it.
type Prior struct {
	SampleSize float64
	Variance   float64
}

// DefaultPrior is the inactive prior.
var DefaultPrior = Prior{SampleSize: 0, Variance: 1}

type WLSOptions struct {
	Prior  Prior
	REML   bool
	LogLik bool
	Method Method
}

// Fit is the result of a weighted least squares fit.
type Fit struct {
	B      []float64
	Sigma2 float64
	LogLik float64
	RSS    float64
}

// WLS fits y = X b + e with Var(e_i) = sigma2 / w_i. X may be nil for a model
// without fixed effects. RSS is the weighted residual sum of squares.
func WLS(y mat.Vector, X mat.Matrix, w []float64, opts WLSOptions) (Fit, error) {
	n := y.Len()
	xr, p := dims(X, n)
	if xr != n || len(w) != n {
		return Fit{}, dimErr("y has %d rows, X has %d, weights have %d", n, xr, len(w))
	}
	if n == 0 {
		return Fit{}, dimErr("no samples")
	}
	if n <= p {
		return Fit{}, dimErr("%d samples cannot fit %d fixed effects", n, p)
	}
	sumLogW := 0.0
	sqrtw := make([]float64, n)
	for i, wi := range w {
		if !(wi > 0) || math.IsInf(wi, 0) {
			return Fit{}, numErr("weight %d is %g, must be positive and finite", i, wi)
		}
		sqrtw[i] = math.Sqrt(wi)
		sumLogW += math.Log(wi)
	}

	yy := scaleVec(y, sqrtw)
	var (
		b      []float64
		logDet float64
		resid  []float64
		err    error
	)
	if p == 0 {
		resid = yy.RawVector().Data
	} else {
		XX := scaleRows(X, sqrtw)
		b, logDet, err = solveNormal(yy, XX, opts.Method)
		if err != nil {
			return Fit{}, err
		}
		resid = residuals(yy, XX, b)
	}
	rss := floats.Dot(resid, resid)

	fit := Fit{B: b, RSS: rss}
	df := float64(n)
	if opts.REML {
		df -= float64(p)
	}
	fit.Sigma2 = (rss + opts.Prior.SampleSize*opts.Prior.Variance) / (df + opts.Prior.SampleSize)

	if opts.LogLik {
		if !(fit.Sigma2 > 0) {
			return Fit{}, numErr("residual variance is %g", fit.Sigma2)
		}
		logSigma2 := math.Log(fit.Sigma2)
		fit.LogLik = -0.5 * (df*math.Log(2*math.Pi) + float64(n)*logSigma2 - sumLogW + rss/fit.Sigma2)
		if opts.REML {
			fit.LogLik += 0.5 * (float64(p)*logSigma2 - logDet)
		}
	}
	return fit, nil
}

// solveNormal returns the least squares coefficients of yy on XX together
// with log det(XX^T XX).
func solveNormal(yy *mat.VecDense, XX *mat.Dense, method Method) ([]float64, float64, error) {
	_, p := XX.Dims()
	b := mat.NewVecDense(p, nil)
	switch method {
	case Cholesky:
		var xtx mat.SymDense
		xtx.SymOuterK(1, XX.T())
		var chol mat.Cholesky
		if ok := chol.Factorize(&xtx); !ok {
			return nil, 0, numErr("design matrix is singular or not positive definite")
		}
		xty := mat.NewVecDense(p, nil)
		xty.MulVec(XX.T(), yy)
		if err := chol.SolveVecTo(b, xty); err != nil {
			return nil, 0, numErr("cholesky solve: %v", err)
		}
		return b.RawVector().Data, chol.LogDet(), nil
	case QR:
		var qr mat.QR
		qr.Factorize(XX)
		if err := checkRank(&qr, p); err != nil {
			return nil, 0, err
		}
		if err := qr.SolveVecTo(b, false, yy); err != nil {
			return nil, 0, numErr("qr solve: %v", err)
		}
		var r mat.Dense
		qr.RTo(&r)
		logDet := 0.0
		for i := 0; i < p; i++ {
			logDet += 2 * math.Log(math.Abs(r.At(i, i)))
		}
		return b.RawVector().Data, logDet, nil
	default:
		return nil, 0, numErr("unknown factorization %d", method)
	}
}

// checkRank fails when the R factor has a diagonal entry that is zero
// relative to the largest one.
func checkRank(qr *mat.QR, p int) error {
	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for i := 0; i < p; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(r.At(i, i)))
	}
	for i := 0; i < p; i++ {
		if d := math.Abs(r.At(i, i)); d <= rankTol*maxDiag || d == 0 {
			return numErr("design matrix is rank deficient (column %d)", i)
		}
	}
	return nil
}

// residuals returns y - X b.
func residuals(y mat.Vector, X mat.Matrix, b []float64) []float64 {
	n := y.Len()
	out := make([]float64, n)
	if len(b) == 0 {
		for i := range out {
			out[i] = y.AtVec(i)
		}
		return out
	}
	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(X, mat.NewVecDense(len(b), b))
	for i := range out {
		out[i] = y.AtVec(i) - fitted.AtVec(i)
	}
	return out
}
