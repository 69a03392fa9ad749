package lmm

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// randomKinship returns a symmetric positive definite relatedness matrix
// built from q random standard normal loadings per sample.
func randomKinship(r *rand.Rand, n, q int) *mat.Dense {
	Z := mat.NewDense(n, q, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < q; j++ {
			Z.Set(i, j, r.NormFloat64())
		}
	}
	var K mat.SymDense
	K.SymOuterK(1/float64(q), Z)
	out := mat.DenseCopyOf(&K)
	for i := 0; i < n; i++ {
		out.Set(i, i, out.At(i, i)+0.05)
	}
	return out
}

// simulateTrait draws y = 1 + b*G[:, causal] + u + e with u ~ N(0, h2*K)
// and e ~ N(0, (1-h2)*I). causal < 0 means no marker effect.
func simulateTrait(r *rand.Rand, G, K *mat.Dense, causal int, b, h2 float64) *mat.Dense {
	n, _ := K.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, K.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		panic("kinship is not positive definite")
	}
	var L mat.TriDense
	chol.LTo(&L)

	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, r.NormFloat64())
	}
	u := mat.NewVecDense(n, nil)
	u.MulVec(&L, z)

	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := 1.0 + u.AtVec(i)*math.Sqrt(h2) + r.NormFloat64()*math.Sqrt(1-h2)
		if causal >= 0 {
			v += b * G.At(i, causal)
		}
		y.Set(i, 0, v)
	}
	return y
}
