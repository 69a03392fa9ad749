package lmm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	symmetryTol = 1e-8
	eigenTol    = 1e-8
)

// Rotation holds the spectral decomposition K = U diag(Lambda) U^T of a
// kinship matrix. It is read-only once returned and may be shared by all
// workers of a scan.
type Rotation struct {
	U      *mat.Dense
	Lambda []float64
}

// Rotated is the phenotype and design after left multiplication by U^T.
type Rotated struct {
	Y      *mat.VecDense
	X      *mat.Dense
	Lambda []float64
}

// Decompose computes the eigendecomposition of K. K must be square,
// symmetric and positive semi-definite up to numerical tolerance.
func Decompose(K mat.Matrix) (*Rotation, error) {
	n, c := K.Dims()
	if n != c {
		return nil, dimErr("kinship matrix is %dx%d, expected square", n, c)
	}
	if n == 0 {
		return nil, dimErr("kinship matrix is empty")
	}

	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			maxAbs = math.Max(maxAbs, math.Abs(K.At(i, j)))
		}
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := K.At(i, j), K.At(j, i)
			if math.IsNaN(a) || math.IsInf(a, 0) {
				return nil, numErr("kinship entry (%d,%d) is not finite", i, j)
			}
			if math.IsNaN(b) || math.IsInf(b, 0) {
				return nil, numErr("kinship entry (%d,%d) is not finite", j, i)
			}
			if math.Abs(a-b) > symmetryTol*math.Max(maxAbs, 1) {
				return nil, numErr("kinship matrix is not symmetric at (%d,%d): %g vs %g", i, j, a, b)
			}
			sym.SetSym(i, j, a)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, numErr("eigendecomposition of kinship matrix failed")
	}
	lambda := eig.Values(nil)
	maxLambda := 0.0
	for _, l := range lambda {
		maxLambda = math.Max(maxLambda, math.Abs(l))
	}
	for i, l := range lambda {
		if l < 0 {
			if l < -eigenTol*math.Max(maxLambda, 1) {
				return nil, numErr("kinship matrix is not positive semi-definite: eigenvalue %g", l)
			}
			lambda[i] = 0
		}
	}

	U := mat.NewDense(n, n, nil)
	eig.VectorsTo(U)
	return &Rotation{U: U, Lambda: lambda}, nil
}

// N is the number of samples of the decomposed kinship matrix.
func (r *Rotation) N() int {
	return len(r.Lambda)
}

// Apply returns U^T M. A nil or column-less M yields a nil result.
func (r *Rotation) Apply(M mat.Matrix) (*mat.Dense, error) {
	if isEmpty(M) {
		return nil, nil
	}
	rows, cols := M.Dims()
	if rows != r.N() {
		return nil, dimErr("matrix has %d rows, kinship has %d", rows, r.N())
	}
	out := mat.NewDense(rows, cols, nil)
	out.Mul(r.U.T(), M)
	return out, nil
}

// ApplyVec returns U^T v.
func (r *Rotation) ApplyVec(v mat.Vector) (*mat.VecDense, error) {
	if v.Len() != r.N() {
		return nil, dimErr("vector has length %d, kinship has %d", v.Len(), r.N())
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.MulVec(r.U.T(), v)
	return out, nil
}

// Rotate decomposes K and rotates y and X by U^T.
func Rotate(y mat.Vector, X mat.Matrix, K mat.Matrix) (*Rotated, error) {
	n := y.Len()
	xr, _ := dims(X, n)
	kr, kc := K.Dims()
	if xr != n || kr != n || kc != n {
		return nil, dimErr("y has %d rows, X has %d, K is %dx%d", n, xr, kr, kc)
	}
	rot, err := Decompose(K)
	if err != nil {
		return nil, err
	}
	return rot.rotate(y, X)
}

func (r *Rotation) rotate(y mat.Vector, X mat.Matrix) (*Rotated, error) {
	ry, err := r.ApplyVec(y)
	if err != nil {
		return nil, err
	}
	rx, err := r.Apply(X)
	if err != nil {
		return nil, err
	}
	return &Rotated{Y: ry, X: rx, Lambda: r.Lambda}, nil
}

// RotateWeighted is Rotate for samples with known per-sample precision
// weights w (e.g. inverse error variance). Rows of y and X are scaled by
// sqrt(w) and K by D K D with D = diag(sqrt(w)) before the rotation.
func RotateWeighted(y mat.Vector, X mat.Matrix, K mat.Matrix, w []float64) (*Rotated, error) {
	n := y.Len()
	xr, xc := dims(X, n)
	kr, kc := K.Dims()
	if xr != n || kr != n || kc != n || len(w) != n {
		return nil, dimErr("y has %d rows, X has %d, K is %dx%d, weights have %d", n, xr, kr, kc, len(w))
	}
	sqrtw := make([]float64, n)
	for i, wi := range w {
		if !(wi > 0) || math.IsInf(wi, 0) {
			return nil, numErr("sample weight %d is %g, must be positive and finite", i, wi)
		}
		sqrtw[i] = math.Sqrt(wi)
	}

	wy := mat.NewVecDense(n, nil)
	wK := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		wy.SetVec(i, sqrtw[i]*y.AtVec(i))
		for j := 0; j < n; j++ {
			wK.Set(i, j, sqrtw[i]*K.At(i, j)*sqrtw[j])
		}
	}
	if xc == 0 {
		return Rotate(wy, nil, wK)
	}
	return Rotate(wy, scaleRows(X, sqrtw), wK)
}
