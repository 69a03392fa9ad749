package lmm

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// rotatedTrait simulates rotated data directly: y_i ~ N(mu, s2*(h2*l_i + 1-h2)).
func rotatedTrait(r *rand.Rand, n int, h2, s2 float64) (*mat.VecDense, *mat.Dense, []float64) {
	lambda := make([]float64, n)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		lambda[i] = 3 * float64(i) / float64(n)
		v := s2 * (h2*lambda[i] + 1 - h2)
		y.SetVec(i, 2+math.Sqrt(v)*r.NormFloat64())
	}
	return y, GenerateOnes(1, n, 1), lambda
}

func TestFitVCGridMatchesBrent(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	y, X, lambda := rotatedTrait(r, 2000, 0.6, 1.5)

	for _, reml := range []bool{false, true} {
		grid, err := FitVC(y, X, lambda, VCOptions{Prior: DefaultPrior, REML: reml, Optimizer: GridSearch{NGrid: 100}})
		require.NoError(t, err)
		brent, err := FitVC(y, X, lambda, VCOptions{Prior: DefaultPrior, REML: reml, Optimizer: DefaultBrent})
		require.NoError(t, err)

		assert.InDelta(t, grid.H2, brent.H2, 1e-2)
		assert.InDelta(t, 0.6, brent.H2, 0.2)
		assert.InDelta(t, 1.5, brent.Sigma2, 0.5)
		assert.InDelta(t, 2, brent.B[0], 0.2)
		assert.True(t, brent.Converged)
		assert.Nil(t, brent.Warning)
		assert.GreaterOrEqual(t, brent.LogLik, grid.LogLik-1e-6)
	}
}

func TestFitVCZeroHeritability(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	y, X, lambda := rotatedTrait(r, 1000, 0, 1)

	grid, err := FitVC(y, X, lambda, VCOptions{Prior: DefaultPrior, Optimizer: GridSearch{NGrid: 100}})
	require.NoError(t, err)
	brent, err := FitVC(y, X, lambda, VCOptions{Prior: DefaultPrior})
	require.NoError(t, err)
	assert.InDelta(t, grid.H2, brent.H2, 1e-2)
	assert.GreaterOrEqual(t, brent.H2, 0.0)
	assert.LessOrEqual(t, brent.H2, 1.0)
}

func TestFitVCConvergenceWarning(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	y, X, lambda := rotatedTrait(r, 200, 0.5, 1)

	est, err := FitVC(y, X, lambda, VCOptions{Prior: DefaultPrior, Optimizer: Brent{Center: 0.5, HalfWidth: 0.5, Tol: 1e-12, MaxIter: 2}})
	require.NoError(t, err)
	assert.False(t, est.Converged)
	var cw *ConvergenceWarning
	require.True(t, errors.As(est.Warning, &cw))
	assert.Equal(t, -1, cw.Marker)
	assert.Equal(t, est.H2, cw.H2)
}

func TestFitVCErrors(t *testing.T) {
	y := mat.NewVecDense(3, []float64{1, 2, 3})
	_, err := FitVC(y, GenerateOnes(1, 3, 1), []float64{1, 1}, VCOptions{})
	assert.ErrorIs(t, err, ErrDimension)

	singular := hstack(GenerateOnes(1, 3, 1), GenerateOnes(1, 3, 1))
	_, err = FitVC(y, singular, []float64{1, 1, 1}, VCOptions{})
	assert.ErrorIs(t, err, ErrNumerical)
}
