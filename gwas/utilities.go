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
)

// LoadMatrixFromFile reads a delimited numeric matrix without a header.
func LoadMatrixFromFile(filename string, delim rune) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := csv.NewReader(f)
	c.Comma = delim
	c.TrimLeadingSpace = true
	text, err := c.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("%s: empty matrix", filename)
	}

	columns := c.FieldsPerRecord
	lines := len(text)
	data := make([]float64, columns*lines)
	for i := 0; i < lines; i++ {
		for j := 0; j < columns; j++ {
			data[i*columns+j], err = strconv.ParseFloat(strings.TrimSpace(text[i][j]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: line %d, column %d: %w", filename, i+1, j+1, err)
			}
		}
	}
	return mat.NewDense(lines, columns, data), nil
}

func LoadMatDenseCacheFromFile(filename string) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var res mat.Dense
	if _, err := res.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &res, nil
}

func SaveMatDenseToFile(x *mat.Dense, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := x.MarshalBinaryTo(writer); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	log.LLvl1("Saved data to", filename)
	return nil
}

// SaveMatrixToFile writes M as delimited text, one row per line.
func SaveMatrixToFile(M mat.Matrix, filename string, delim rune) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := bufio.NewWriter(f)
	rows, cols := M.Dims()
	line := make([]string, cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			line[col] = fmt.Sprintf("%.6e", M.At(row, col))
		}
		writer.WriteString(strings.Join(line, string(delim)) + "\n")
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	log.LLvl1("Saved data to", filename)
	return nil
}

func SaveFloatVectorToFile(filename string, x []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i := range x {
		writer.WriteString(fmt.Sprintf("%.6e\n", x[i]))
	}
	return writer.Flush()
}

// SaveMarkerTable writes one tab separated line per marker: its name
// followed by the value of each column at that marker.
func SaveMarkerTable(filename string, names []string, columns ...[]float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for j, name := range names {
		writer.WriteString(name)
		for _, col := range columns {
			writer.WriteString(fmt.Sprintf("\t%.6e", col[j]))
		}
		writer.WriteString("\n")
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	log.LLvl1("Saved data to", filename)
	return nil
}
