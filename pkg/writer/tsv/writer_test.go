package tsv

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/reader/ident"
)

func testDataset() *core.Dataset {
	return &core.Dataset{
		FeatureNames: []string{"f"},
		X:            [][]float64{{1}, {2}},
		Labels:       []core.Label{core.Target, core.Decoy},
		Keys:         []core.Key{{Scan: 7, Charge: 2}, {Scan: 9, Charge: 3}},
		IDs:          []string{"a", "b"},
		Scores:       []float64{0, 0},
		Peptides:     []string{"K.PEPTIDE.R", "EDITPEP"},
		Proteins:     []string{"P1", "P2"},
	}
}

func TestWriteDataset(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteDataset(testDataset(), []float64{1.5, -0.25}, nil))
	require.NoError(t, w.Close())

	want := "Kind\tSid\tPeptide\tScore\n" +
		"t\t7\tPEPTIDE\t1.5\n" +
		"d\t9\tEDITPEP\t-0.25\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 2, w.Rows())
}

func TestOptionalColumns(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{Charge: true, QValue: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteDataset(testDataset(), []float64{1, 0}, []float64{0.01, 0.5}))
	require.NoError(t, w.Close())

	want := "Kind\tSid\tCharge\tPeptide\tScore\tQValue\n" +
		"t\t7\t2\tPEPTIDE\t1\t0.01\n" +
		"d\t9\t3\tEDITPEP\t0\t0.5\n"
	assert.Equal(t, want, buf.String())
}

func TestLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{QValue: true})
	require.NoError(t, err)
	assert.Error(t, w.WriteDataset(testDataset(), []float64{1}, nil))
	assert.Error(t, w.WriteDataset(testDataset(), []float64{1, 2}, []float64{0}))
}

func TestRoundTripThroughIdentReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	w, err := Create(path, Options{Charge: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteDataset(testDataset(), []float64{0.125, -3}, nil))
	require.NoError(t, w.Close())

	records, err := ident.ReadFile(path, "", nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ident.Record{Label: core.Target, Sid: 7, Charge: 2, Peptide: "PEPTIDE", Score: 0.125}, records[0])
	assert.Equal(t, core.Decoy, records[1].Label)
	assert.Equal(t, -3.0, records[1].Score)
}
