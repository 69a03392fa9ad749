package gwas

import "math"

// FilterParams are the marker quality control bounds applied while the
// genotypes are read.
type FilterParams struct {
	MafLowerBound float64
	GenoMissBound float64
}

// Keep reports whether a marker passes the bounds. Dosages are the expected
// count of the minor allele, so the allele frequency is half their mean.
func (filt FilterParams) Keep(m *Marker) bool {
	n := len(m.Values)
	if n == 0 {
		return false
	}
	if float64(m.Missing)/float64(n) > filt.GenoMissBound {
		return false
	}
	if filt.MafLowerBound <= 0 {
		return true
	}
	sum := 0.0
	for _, v := range m.Values {
		sum += v
	}
	af := sum / float64(n) / 2
	return math.Min(af, 1-af) >= filt.MafLowerBound
}
