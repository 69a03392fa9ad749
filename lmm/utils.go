package lmm

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// dims returns the dimensions of X, treating a nil matrix as n×0.
func dims(X mat.Matrix, n int) (int, int) {
	if isEmpty(X) {
		return n, 0
	}
	return X.Dims()
}

func isEmpty(X mat.Matrix) bool {
	if X == nil {
		return true
	}
	if d, ok := X.(*mat.Dense); ok && (d == nil || d.IsEmpty()) {
		return true
	}
	return false
}

func scaleRows(X mat.Matrix, s []float64) *mat.Dense {
	r, c := X.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, s[i]*X.At(i, j))
		}
	}
	return out
}

func scaleVec(v mat.Vector, s []float64) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	for i := 0; i < v.Len(); i++ {
		out.SetVec(i, s[i]*v.AtVec(i))
	}
	return out
}

// makeWeights returns the precision weights 1/(h2*lambda + (1-h2)) of the
// rotated samples.
func makeWeights(h2 float64, lambda []float64) []float64 {
	w := make([]float64, len(lambda))
	for i, l := range lambda {
		w[i] = 1 / (h2*l + (1 - h2))
	}
	return w
}

func sqrtSlice(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Sqrt(x[i])
	}
	return out
}

// hstack returns [A B]; either side may be empty.
func hstack(A, B mat.Matrix) *mat.Dense {
	if isEmpty(A) {
		return mat.DenseCopyOf(B)
	}
	if isEmpty(B) {
		return mat.DenseCopyOf(A)
	}
	ar, ac := A.Dims()
	_, bc := B.Dims()
	out := mat.NewDense(ar, ac+bc, nil)
	out.Augment(A, B)
	return out
}

// nullDesign assembles the fixed effects shared by every marker model:
// an intercept column when requested followed by the covariates.
func nullDesign(n int, addIntercept bool, covariates mat.Matrix) *mat.Dense {
	var ones *mat.Dense
	if addIntercept {
		ones = GenerateOnes(1, n, 1)
	}
	if isEmpty(covariates) {
		return ones
	}
	return hstack(ones, covariates)
}

// standardizeVec returns (x - mean) / sd using the sample standard
// deviation. ok is false for a constant vector.
func standardizeVec(x []float64) ([]float64, bool) {
	mean, sd := stat.MeanStdDev(x, nil)
	out := make([]float64, len(x))
	if !(sd > 0) || math.IsNaN(sd) {
		return out, false
	}
	for i := range x {
		out[i] = (x[i] - mean) / sd
	}
	return out, true
}

// standardizeCols standardizes every column of X. Constant columns are
// zeroed and reported in the returned mask.
func standardizeCols(X mat.Matrix) (*mat.Dense, []bool) {
	r, c := X.Dims()
	out := mat.NewDense(r, c, nil)
	ok := make([]bool, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		std, good := standardizeVec(col)
		out.SetCol(j, std)
		ok[j] = good
	}
	return out, ok
}

// residualize returns the columns of A with their projection onto the
// column space of B removed. B must have full column rank.
func residualize(A mat.Matrix, B mat.Matrix) (*mat.Dense, error) {
	if isEmpty(B) {
		return mat.DenseCopyOf(A), nil
	}
	n, p := B.Dims()
	if n <= p {
		return nil, dimErr("cannot residualize on %d columns with %d rows", p, n)
	}
	var qr mat.QR
	qr.Factorize(B)
	if err := checkRank(&qr, p); err != nil {
		return nil, err
	}
	var q mat.Dense
	qr.QTo(&q)
	qThin := q.Slice(0, n, 0, p)

	_, c := A.Dims()
	proj := mat.NewDense(p, c, nil)
	proj.Mul(qThin.T(), A)
	out := mat.NewDense(n, c, nil)
	out.Mul(qThin, proj)
	out.Sub(A, out)
	return out, nil
}

func residualizeVec(y mat.Vector, B mat.Matrix) (*mat.VecDense, error) {
	r, err := residualize(y, B)
	if err != nil {
		return nil, err
	}
	return mat.VecDenseCopyOf(r.ColView(0)), nil
}

func sumSquares(x []float64) float64 {
	return floats.Dot(x, x)
}

// lodFromRSS compares nested models by their residual sums of squares.
func lodFromRSS(n int, rss0, rss1 float64) float64 {
	return -float64(n) / 2 * (math.Log10(rss1) - math.Log10(rss0))
}

// clampLOD removes negative roundoff from a LOD score. Values further below
// zero are left alone so that they remain visible.
func clampLOD(lod float64) float64 {
	if lod < 0 && lod > -lodRoundoff {
		return 0
	}
	return lod
}

const lodRoundoff = 1e-8

func h2Grid(ngrid int) []float64 {
	h2s := make([]float64, ngrid+1)
	for r := 0; r <= ngrid; r++ {
		h2s[r] = float64(r) / float64(ngrid)
	}
	return h2s
}

func clip01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// AllocateAllResources splits n items into m contiguous ranges, returning
// the size and start of each range.
func AllocateAllResources(n, m int) ([]int, []int) {
	x := make([]int, m)
	counter := 0
	for i := 0; i < m; i++ {
		x[i] = n / m
		counter += x[i]
	}
	for i := 0; i < n-counter; i++ {
		x[i] += 1
	}
	y := make([]int, m)
	counter = 0
	for i := 0; i < len(x); i++ {
		y[i] = counter
		counter += x[i]
	}
	return x, y
}

func GenerateRandMatrix(r *rand.Rand, n int, m int) *mat.Dense {
	listX := make([]float64, n*m)
	for i := 0; i < n*m; i++ {
		listX[i] = float64(r.Intn(3))
	}
	X := mat.NewDense(n, m, listX)
	return X
}

func GenerateRandVector(r *rand.Rand, n int) *mat.VecDense {
	listY := make([]float64, n)
	for i := 0; i < n; i++ {
		listY[i] = r.NormFloat64()
	}
	y := mat.NewVecDense(n, listY)
	return y
}

func GenerateIdentity(delta float64, n int) *mat.DiagDense {
	identity := make([]float64, n)
	for i := 0; i < n; i++ {
		identity[i] = delta
	}
	I := mat.NewDiagDense(n, identity)
	return I
}

func GenerateOnes(delta float64, n int, m int) *mat.Dense {
	ones := make([]float64, n*m)
	for i := 0; i < n*m; i++ {
		ones[i] = delta
	}
	res := mat.NewDense(n, m, ones)
	return res
}
