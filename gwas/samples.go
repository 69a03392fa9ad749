package gwas

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/mat"

	"github.com/hhcho/lmmscan/lmm"
)

// LoadSampleIDs reads one sample identifier per line, in genotype column
// order.
func LoadSampleIDs(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, fmt.Errorf("%s: duplicate sample %q", filename, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// LoadKeyedTable reads a delimited table whose first column is a sample
// identifier and whose remaining columns are numeric.
func LoadKeyedTable(filename string, delim rune) ([]string, *mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	c := csv.NewReader(f)
	c.Comma = delim
	c.TrimLeadingSpace = true
	text, err := c.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filename, err)
	}
	if len(text) == 0 || c.FieldsPerRecord < 2 {
		return nil, nil, fmt.Errorf("%s: expected a sample column and at least one value column", filename)
	}

	columns := c.FieldsPerRecord - 1
	ids := make([]string, len(text))
	data := make([]float64, len(text)*columns)
	for i, record := range text {
		ids[i] = strings.TrimSpace(record[0])
		for j := 0; j < columns; j++ {
			data[i*columns+j], err = strconv.ParseFloat(strings.TrimSpace(record[j+1]), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: sample %s, column %d: %w", filename, ids[i], j+2, err)
			}
		}
	}
	return ids, mat.NewDense(len(text), columns, data), nil
}

// AlignRows returns the rows of table reordered to follow samples. Every
// sample must appear in ids; rows for other samples are dropped.
func AlignRows(samples, ids []string, table mat.Matrix) (*mat.Dense, error) {
	rows, cols := table.Dims()
	if len(ids) != rows {
		return nil, fmt.Errorf("%w: %d identifiers for %d rows", lmm.ErrDimension, len(ids), rows)
	}
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate sample %q", id)
		}
		index[id] = i
	}

	out := mat.NewDense(len(samples), cols, nil)
	for i, id := range samples {
		src, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: sample %q has no row", lmm.ErrDimension, id)
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, table.At(src, j))
		}
	}
	if dropped := rows - len(samples); dropped > 0 {
		log.Lvl2("Dropped", dropped, "rows for samples without genotypes")
	}
	return out, nil
}

// loadTable reads an unkeyed matrix, or a keyed one aligned to samples when
// samples is set.
func loadTable(filename string, delim rune, samples []string) (*mat.Dense, error) {
	if samples == nil {
		return LoadMatrixFromFile(filename, delim)
	}
	ids, table, err := LoadKeyedTable(filename, delim)
	if err != nil {
		return nil, err
	}
	out, err := AlignRows(samples, ids, table)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return out, nil
}
