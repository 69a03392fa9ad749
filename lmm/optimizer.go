package lmm

import (
	"math"
)

// Optimizer minimizes a scalar objective over a subinterval of [0, 1].
// Implementations must clip their search interval to [0, 1].
type Optimizer interface {
	Minimize(f func(float64) float64) OptimResult
}

type OptimResult struct {
	X           float64
	F           float64
	Converged   bool
	Evaluations int
}

// GridSearch evaluates the objective at 0, 1/NGrid, ..., 1.
type GridSearch struct {
	NGrid int
}

func (g GridSearch) Minimize(f func(float64) float64) OptimResult {
	ngrid := g.NGrid
	if ngrid <= 0 {
		ngrid = 100
	}
	best := OptimResult{X: math.NaN(), F: math.Inf(1), Converged: true}
	for _, h2 := range h2Grid(ngrid) {
		fx := f(h2)
		best.Evaluations++
		if fx < best.F {
			best.X, best.F = h2, fx
		}
	}
	return best
}

// Brent is a derivative-free bounded minimizer over
// [max(Center-HalfWidth, 0), min(Center+HalfWidth, 1)] combining golden
// section search with parabolic interpolation. The interval endpoints are
// evaluated too and win over the interior optimum when lower.
type Brent struct {
	Center    float64
	HalfWidth float64
	Tol       float64
	MaxIter   int
}

// DefaultBrent searches the whole unit interval.
var DefaultBrent = Brent{Center: 0.5, HalfWidth: 0.5, Tol: 1e-5, MaxIter: 500}

func (b Brent) Interval() (float64, float64) {
	return clip01(b.Center - b.HalfWidth), clip01(b.Center + b.HalfWidth)
}

func (b Brent) Minimize(f func(float64) float64) OptimResult {
	lo, hi := b.Interval()
	xatol := b.Tol
	if xatol <= 0 {
		xatol = DefaultBrent.Tol
	}
	maxfun := b.MaxIter
	if maxfun <= 0 {
		maxfun = DefaultBrent.MaxIter
	}
	if hi-lo <= xatol {
		x := 0.5 * (lo + hi)
		return OptimResult{X: x, F: f(x), Converged: true, Evaluations: 1}
	}

	res := brentBounded(f, lo, hi, xatol, maxfun)
	for _, x := range []float64{lo, hi} {
		fx := f(x)
		res.Evaluations++
		if fx < res.F {
			res.X, res.F = x, fx
		}
	}
	return res
}

func brentBounded(f func(float64) float64, a, b, xatol float64, maxfun int) OptimResult {
	sqrtEps := math.Sqrt(2.2e-16)
	goldenMean := 0.5 * (3 - math.Sqrt(5))

	fulc := a + goldenMean*(b-a)
	nfc, xf := fulc, fulc
	rat, e := 0.0, 0.0
	x := xf
	fx := f(x)
	num := 1
	ffulc, fnfc := fx, fx
	xm := 0.5 * (a + b)
	tol1 := sqrtEps*math.Abs(xf) + xatol/3
	tol2 := 2 * tol1

	converged := true
	for math.Abs(xf-xm) > tol2-0.5*(b-a) {
		if num >= maxfun {
			converged = false
			break
		}
		golden := true
		if math.Abs(e) > tol1 {
			golden = false
			r := (xf - nfc) * (fx - ffulc)
			q := (xf - fulc) * (fx - fnfc)
			p := (xf-fulc)*q - (xf-nfc)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			r = e
			e = rat

			if math.Abs(p) < math.Abs(0.5*q*r) && p > q*(a-xf) && p < q*(b-xf) {
				rat = p / q
				x = xf + rat
				if x-a < tol2 || b-x < tol2 {
					rat = tol1 * signOrOne(xm-xf)
				}
			} else {
				golden = true
			}
		}
		if golden {
			if xf >= xm {
				e = a - xf
			} else {
				e = b - xf
			}
			rat = goldenMean * e
		}

		x = xf + signOrOne(rat)*math.Max(math.Abs(rat), tol1)
		fu := f(x)
		num++

		if fu <= fx {
			if x >= xf {
				a = xf
			} else {
				b = xf
			}
			fulc, ffulc = nfc, fnfc
			nfc, fnfc = xf, fx
			xf, fx = x, fu
		} else {
			if x < xf {
				a = x
			} else {
				b = x
			}
			if fu <= fnfc || nfc == xf {
				fulc, ffulc = nfc, fnfc
				nfc, fnfc = x, fu
			} else if fu <= ffulc || fulc == xf || fulc == nfc {
				fulc, ffulc = x, fu
			}
		}

		xm = 0.5 * (a + b)
		tol1 = sqrtEps*math.Abs(xf) + xatol/3
		tol2 = 2 * tol1
	}
	return OptimResult{X: xf, F: fx, Converged: converged, Evaluations: num}
}

func signOrOne(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
