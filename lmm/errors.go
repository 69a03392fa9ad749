package lmm

import (
	"errors"
	"fmt"
)

var (
	// ErrDimension is returned when the row or column counts of y, X/G, K
	// or a weight vector disagree.
	ErrDimension = errors.New("dimension mismatch")

	// ErrUnsupportedInput is returned for phenotypes with more than one column.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrInvalidConfig is returned for contradictory scan settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNumerical is returned for singular designs, non-positive weights and
	// kinship matrices that are not symmetric positive semi-definite.
	ErrNumerical = errors.New("numerical error")
)

// ConvergenceWarning is attached to an estimate when the optimizer ran out
// of iterations. It is a diagnostic, never returned as the error of a call.
type ConvergenceWarning struct {
	Iterations int
	H2         float64
	Marker     int // -1 for the null model
}

func (w *ConvergenceWarning) Error() string {
	if w.Marker < 0 {
		return fmt.Sprintf("null model: optimizer did not converge after %d iterations, using h2=%.4f", w.Iterations, w.H2)
	}
	return fmt.Sprintf("marker %d: optimizer did not converge after %d iterations, using h2=%.4f", w.Marker, w.Iterations, w.H2)
}

func dimErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDimension, fmt.Sprintf(format, args...))
}

func numErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNumerical, fmt.Sprintf(format, args...))
}
