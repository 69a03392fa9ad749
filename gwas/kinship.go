package gwas

import (
	"fmt"
	"math"

	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BuildKinship returns the identity-by-state similarity of the N×P genotypes
// G: K_ij is the mean over non-constant markers of 1 - |g_i - g_j| / range,
// where range is the spread of the marker's dosages. The diagonal is one and
// K is positive semi-definite, since on [0, 1] the per-marker term equals
// min(s_i, s_j) + min(1-s_i, 1-s_j). Markers are not centered, so the
// intercept does not fall in the null space of K.
func BuildKinship(G mat.Matrix) (*mat.SymDense, error) {
	n, m := G.Dims()
	if n == 0 || m == 0 {
		return nil, fmt.Errorf("kinship: empty genotype matrix")
	}

	K := mat.NewSymDense(n, nil)
	col := make([]float64, n)
	kept := 0
	for j := 0; j < m; j++ {
		mat.Col(col, j, G)
		lo, hi := floats.Min(col), floats.Max(col)
		if !(hi > lo) || math.IsNaN(lo) || math.IsNaN(hi) {
			continue
		}
		for i := range col {
			col[i] = (col[i] - lo) / (hi - lo)
		}
		for i := 0; i < n; i++ {
			for k := i; k < n; k++ {
				K.SetSym(i, k, K.At(i, k)+1-math.Abs(col[i]-col[k]))
			}
		}
		kept++
	}
	if kept == 0 {
		return nil, fmt.Errorf("kinship: all %d markers are constant", m)
	}
	if kept < m {
		log.Lvl2("Kinship skipped", m-kept, "constant markers")
	}
	K.ScaleSym(1/float64(kept), K)
	return K, nil
}
