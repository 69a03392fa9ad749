package lmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestWLSInterceptOnly(t *testing.T) {
	y := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	X := GenerateOnes(1, 4, 1)
	w := []float64{1, 1, 1, 1}

	for _, method := range []Method{QR, Cholesky} {
		t.Run(method.String(), func(t *testing.T) {
			fit, err := WLS(y, X, w, WLSOptions{Prior: DefaultPrior, LogLik: true, Method: method})
			require.NoError(t, err)
			require.Len(t, fit.B, 1)
			assert.InDelta(t, 2.5, fit.B[0], 1e-12)
			assert.InDelta(t, 5.0, fit.RSS, 1e-12)
			assert.InDelta(t, 5.0/4, fit.Sigma2, 1e-12)

			want := -0.5 * (4*math.Log(2*math.Pi) + 4*math.Log(1.25) + 4)
			assert.InDelta(t, want, fit.LogLik, 1e-12)
		})
	}
}

func TestWLSREML(t *testing.T) {
	y := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	X := GenerateOnes(1, 4, 1)
	w := []float64{1, 1, 1, 1}

	ml, err := WLS(y, X, w, WLSOptions{Prior: DefaultPrior, LogLik: true})
	require.NoError(t, err)
	reml, err := WLS(y, X, w, WLSOptions{Prior: DefaultPrior, LogLik: true, REML: true})
	require.NoError(t, err)

	assert.Equal(t, ml.RSS, reml.RSS)
	assert.InDelta(t, 5.0/3, reml.Sigma2, 1e-12)
	assert.NotEqual(t, ml.LogLik, reml.LogLik)

	// log det(X^T X) = log 4 for a column of four ones.
	s2 := 5.0 / 3
	want := -0.5*(3*math.Log(2*math.Pi)+4*math.Log(s2)+5/s2) + 0.5*(math.Log(s2)-math.Log(4))
	assert.InDelta(t, want, reml.LogLik, 1e-12)
}

func TestWLSMatchesScaledOLS(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	n := 50
	X := hstack(GenerateOnes(1, n, 1), GenerateRandMatrix(r, n, 2))
	y := GenerateRandVector(r, n)
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.2 + r.Float64()
	}

	qr, err := WLS(y, X, w, WLSOptions{Prior: DefaultPrior, LogLik: true, Method: QR})
	require.NoError(t, err)
	chol, err := WLS(y, X, w, WLSOptions{Prior: DefaultPrior, LogLik: true, Method: Cholesky})
	require.NoError(t, err)
	assert.InDeltaSlice(t, qr.B, chol.B, 1e-9)
	assert.InDelta(t, qr.RSS, chol.RSS, 1e-9)
	assert.InDelta(t, qr.LogLik, chol.LogLik, 1e-9)

	// Residuals of the weighted fit are orthogonal to the weighted design.
	res := residuals(y, X, qr.B)
	for j := 0; j < 3; j++ {
		dot := 0.0
		for i := 0; i < n; i++ {
			dot += w[i] * X.At(i, j) * res[i]
		}
		assert.InDelta(t, 0, dot, 1e-9)
	}
}

func TestWLSPrior(t *testing.T) {
	y := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	X := GenerateOnes(1, 4, 1)
	fit, err := WLS(y, X, []float64{1, 1, 1, 1}, WLSOptions{Prior: Prior{SampleSize: 2, Variance: 3}})
	require.NoError(t, err)
	assert.InDelta(t, (5.0+6)/6, fit.Sigma2, 1e-12)
}

func TestWLSNoFixedEffects(t *testing.T) {
	y := mat.NewVecDense(3, []float64{1, -2, 2})
	fit, err := WLS(y, nil, []float64{1, 2, 1}, WLSOptions{LogLik: true})
	require.NoError(t, err)
	assert.Empty(t, fit.B)
	assert.InDelta(t, 1+8+4, fit.RSS, 1e-12)
}

func TestWLSErrors(t *testing.T) {
	y := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	X := GenerateOnes(1, 4, 1)

	_, err := WLS(y, X, []float64{1, 1, 1}, WLSOptions{})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = WLS(y, X, []float64{1, 0, 1, 1}, WLSOptions{})
	assert.ErrorIs(t, err, ErrNumerical)

	_, err = WLS(y, X, []float64{1, -1, 1, 1}, WLSOptions{})
	assert.ErrorIs(t, err, ErrNumerical)

	singular := hstack(X, GenerateOnes(2, 4, 1))
	for _, method := range []Method{QR, Cholesky} {
		_, err = WLS(y, singular, []float64{1, 1, 1, 1}, WLSOptions{Method: method})
		assert.ErrorIs(t, err, ErrNumerical, method.String())
	}
}
