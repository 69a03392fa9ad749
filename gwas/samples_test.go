package gwas

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hhcho/lmmscan/lmm"
)

func writeFile(t *testing.T, filename, text string) string {
	require.NoError(t, os.WriteFile(filename, []byte(text), 0644))
	return filename
}

func TestLoadKeyedTableAndAlign(t *testing.T) {
	dir := t.TempDir()
	tableFile := writeFile(t, filepath.Join(dir, "pheno.txt"), "s3\t3.5\t30\ns1\t1.5\t10\nsx\t9\t90\ns2\t2.5\t20\n")

	ids, table, err := LoadKeyedTable(tableFile, '\t')
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s1", "sx", "s2"}, ids)

	aligned, err := AlignRows([]string{"s1", "s2", "s3"}, ids, table)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{1.5, 10, 2.5, 20, 3.5, 30}), aligned))

	_, err = AlignRows([]string{"s1", "s4"}, ids, table)
	assert.ErrorIs(t, err, lmm.ErrDimension)

	_, err = AlignRows([]string{"s1"}, []string{"s1", "s1", "s2", "s3"}, table)
	assert.Error(t, err)
}

func TestLoadSampleIDs(t *testing.T) {
	dir := t.TempDir()
	ids, err := LoadSampleIDs(writeFile(t, filepath.Join(dir, "ids.txt"), "a\n b \n\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	_, err = LoadSampleIDs(writeFile(t, filepath.Join(dir, "dup.txt"), "a\nb\na\n"))
	assert.Error(t, err)
}

func TestLoadKeyedTableErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadKeyedTable(writeFile(t, filepath.Join(dir, "one.txt"), "s1\ns2\n"), '\t')
	assert.Error(t, err)

	_, _, err = LoadKeyedTable(writeFile(t, filepath.Join(dir, "bad.txt"), "s1\tx\n"), '\t')
	assert.Error(t, err)
}

func TestScanProtocolAlignsSamples(t *testing.T) {
	dir := t.TempDir()
	n, m := 50, 8
	phenoFile, genoFile := writeToyData(t, dir, n, m)

	y, err := LoadMatrixFromFile(phenoFile, '\t')
	require.NoError(t, err)

	samples := ""
	keyed := ""
	for i := 0; i < n; i++ {
		samples += fmt.Sprintf("id%d\n", i)
	}
	// Reverse order with an extra sample that has no genotypes.
	keyed += "extra\t100\n"
	for i := n - 1; i >= 0; i-- {
		keyed += fmt.Sprintf("id%d\t%v\n", i, y.At(i, 0))
	}

	base := DefaultConfig()
	base.PhenoFile = phenoFile
	base.GenoFile = genoFile
	base.OutDir = filepath.Join(dir, "plain")
	plain, err := InitializeScanProtocol(base)
	require.NoError(t, err)
	want, err := plain.Run()
	require.NoError(t, err)

	config := DefaultConfig()
	config.SampleFile = writeFile(t, filepath.Join(dir, "samples.txt"), samples)
	config.PhenoFile = writeFile(t, filepath.Join(dir, "keyed.txt"), keyed)
	config.GenoFile = genoFile
	config.OutDir = filepath.Join(dir, "keyed")
	prot, err := InitializeScanProtocol(config)
	require.NoError(t, err)
	got, err := prot.Run()
	require.NoError(t, err)

	assert.InDeltaSlice(t, want.Scan.LOD, got.Scan.LOD, 1e-9)
}
