package gwas

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"
)

// Marker is one line of a BIMBAM mean genotype file: the marker name, its two
// alleles and one dosage per sample.
type Marker struct {
	Name   string
	Minor  string
	Major  string
	Values []float64
	// Missing counts the dosages that were imputed.
	Missing int
}

// BimbamStream reads a BIMBAM mean genotype file one marker at a time.
// Fields are separated by commas or whitespace; "NA" marks a missing dosage.
type BimbamStream struct {
	scanner   *bufio.Scanner
	numInds   int
	lineCount int

	replaceMissing bool
}

// NewBimbamStream wraps r. A non-positive numInds is taken from the first
// marker. With replaceMissing, missing dosages become the marker mean.
func NewBimbamStream(r io.Reader, numInds int, replaceMissing bool) *BimbamStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	return &BimbamStream{
		scanner:        scanner,
		numInds:        numInds,
		replaceMissing: replaceMissing,
	}
}

func (bs *BimbamStream) NumInds() int {
	return bs.numInds
}

func (bs *BimbamStream) LineCount() int {
	return bs.lineCount
}

// NextMarker returns io.EOF after the last marker.
func (bs *BimbamStream) NextMarker() (*Marker, error) {
	for bs.scanner.Scan() {
		bs.lineCount++
		line := strings.TrimSpace(bs.scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t'
		})
		if len(fields) < 4 {
			return nil, fmt.Errorf("bimbam line %d: expected name, alleles and dosages", bs.lineCount)
		}
		if bs.numInds <= 0 {
			bs.numInds = len(fields) - 3
		}
		if len(fields)-3 != bs.numInds {
			return nil, fmt.Errorf("bimbam line %d: %d dosages, expected %d", bs.lineCount, len(fields)-3, bs.numInds)
		}
		marker := &Marker{Name: fields[0], Minor: fields[1], Major: fields[2], Values: make([]float64, bs.numInds)}
		if err := bs.parseValues(marker, fields[3:]); err != nil {
			return nil, err
		}
		return marker, nil
	}
	if err := bs.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (bs *BimbamStream) parseValues(marker *Marker, fields []string) error {
	var missing []int
	sum := 0.0
	for i, f := range fields {
		if strings.EqualFold(f, "NA") || strings.EqualFold(f, "nan") {
			missing = append(missing, i)
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("bimbam line %d, marker %s: %w", bs.lineCount, marker.Name, err)
		}
		marker.Values[i] = v
		sum += v
	}
	if len(missing) == 0 {
		return nil
	}
	if !bs.replaceMissing {
		return fmt.Errorf("bimbam line %d, marker %s: %d missing dosages", bs.lineCount, marker.Name, len(missing))
	}
	observed := len(fields) - len(missing)
	if observed == 0 {
		return fmt.Errorf("bimbam line %d, marker %s: all dosages missing", bs.lineCount, marker.Name)
	}
	mean := sum / float64(observed)
	for _, i := range missing {
		marker.Values[i] = mean
	}
	marker.Missing = len(missing)
	return nil
}

// ToMatDense reads the remaining markers into an N×P genotype matrix with
// one column per marker, and returns the marker names.
func (bs *BimbamStream) ToMatDense() ([]string, *mat.Dense, error) {
	return bs.ToMatDenseFiltered(nil)
}

// ToMatDenseFiltered is ToMatDense keeping only the markers that pass filt.
// A nil filt keeps every marker.
func (bs *BimbamStream) ToMatDenseFiltered(filt *FilterParams) ([]string, *mat.Dense, error) {
	var names []string
	var values [][]float64
	skipped := 0
	for {
		marker, err := bs.NextMarker()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if filt != nil && !filt.Keep(marker) {
			skipped++
			continue
		}
		names = append(names, marker.Name)
		values = append(values, marker.Values)
	}
	if skipped > 0 {
		log.LLvl1("Filtered out", skipped, "markers")
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("bimbam stream has no markers")
	}
	G := mat.NewDense(bs.numInds, len(values), nil)
	for j, col := range values {
		G.SetCol(j, col)
	}
	return names, G, nil
}

// ReadBimbam loads a whole BIMBAM file with missing dosages mean imputed.
func ReadBimbam(filename string) ([]string, *mat.Dense, error) {
	return ReadBimbamFiltered(filename, nil)
}

func ReadBimbamFiltered(filename string, filt *FilterParams) ([]string, *mat.Dense, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	names, G, err := NewBimbamStream(file, 0, true).ToMatDenseFiltered(filt)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filename, err)
	}
	return names, G, nil
}

// WriteBimbam writes markers in comma separated BIMBAM format.
func WriteBimbam(w io.Writer, markers []Marker) error {
	writer := bufio.NewWriter(w)
	for _, m := range markers {
		fields := make([]string, 3, 3+len(m.Values))
		fields[0], fields[1], fields[2] = m.Name, m.Minor, m.Major
		for _, v := range m.Values {
			fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if _, err := writer.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}
