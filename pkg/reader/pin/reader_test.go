package pin

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

const header = "SpecId\tLabel\tScanNr\tlnrSp\tdeltCn\tscore\tCharge1\tCharge2\tCharge3\tabsdM\tPeptide\tProteins\n"

func pinRows(rows ...string) string {
	return header + strings.Join(rows, "\n") + "\n"
}

func TestParseHeader(t *testing.T) {
	r, err := NewReader(strings.NewReader(header), Options{OneHotCharge: true})
	require.NoError(t, err)

	h := r.Header()
	assert.Equal(t, "score", h.ScoreColumn)
	assert.Equal(t, []string{"Charge1", "Charge2", "Charge3"}, h.ChargeColumns)
	assert.Equal(t, []string{"lnrSp", "deltCn", "score", "Charge1", "Charge2", "Charge3", "absdM"}, h.FeatureNames)
}

func TestParseHeaderCollapsedCharge(t *testing.T) {
	r, err := NewReader(strings.NewReader(header), Options{OneHotCharge: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"Charge", "lnrSp", "deltCn", "score", "absdM"}, r.Header().FeatureNames)
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no scan", "SpecId\tLabel\tscore\tCharge2\tPeptide\tProteins"},
		{"no label", "SpecId\tScanNr\tscore\tCharge2\tPeptide\tProteins"},
		{"no charge", "SpecId\tLabel\tScanNr\tscore\tPeptide\tProteins"},
		{"no score", "SpecId\tLabel\tScanNr\tdeltCn\tCharge2\tPeptide\tProteins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.header+"\n"), Options{})
			assert.ErrorIs(t, err, ErrMissingColumn)
		})
	}
}

func TestXcorrFallback(t *testing.T) {
	in := "SpecId\tLabel\tScanNr\tXCorr\tCharge2\tPeptide\tProteins\n" +
		"t_1_1\t1\t1\t2.5\t1\tK.PEP.R\tP1\n"
	r, err := NewReader(strings.NewReader(in), Options{OneHotCharge: true})
	require.NoError(t, err)
	assert.Equal(t, "XCorr", r.Header().ScoreColumn)

	require.True(t, r.Next())
	assert.Equal(t, 2.5, r.PSM().Score)
	assert.Equal(t, 2, r.PSM().Key.Charge)
}

func TestReadRows(t *testing.T) {
	in := pinRows(
		"DefaultDirection\t-\t-\t0.1\t0.2\t0.3\t0\t0\t0\t0.4\t-\t-",
		"target_0_11_2_1\t1\t11\t1.5\t0.2\t3.1\t0\t1\t0\t0.01\tK.PEPTIDE.R\tsp|P1\tsp|P2",
		"decoy_0_12_3_1\t-1\t12\t2.5\t0.1\t1.2\t0\t0\t1\t\tR.EDITPEP.K\tdecoy_P1",
	)
	r, err := NewReader(strings.NewReader(in), Options{OneHotCharge: true})
	require.NoError(t, err)

	require.True(t, r.Next())
	p := r.PSM()
	assert.Equal(t, "target_0_11_2_1", p.ID)
	assert.Equal(t, core.Key{Scan: 11, Charge: 2, Counter: 0}, p.Key)
	assert.Equal(t, core.Target, p.Label)
	assert.Equal(t, 3.1, p.Score)
	assert.Equal(t, "sp|P1\tsp|P2", p.Proteins)
	assert.Equal(t, "PEPTIDE", p.StrippedPeptide())
	assert.Equal(t, []float64{1.5, 0.2, 3.1, 0, 1, 0, 0.01}, p.Features)

	require.True(t, r.Next())
	p = r.PSM()
	assert.Equal(t, core.Decoy, p.Label)
	assert.Equal(t, 3, p.Key.Charge)
	assert.True(t, math.IsNaN(p.Features[6]), "empty feature should be missing")

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
	assert.Equal(t, 0, r.Skipped())
}

func TestRowLevelErrorsSkip(t *testing.T) {
	in := pinRows(
		"a_1\t1\tabc\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tP",
		"a_2\t1\t2\t1\tx\t1\t0\t1\t0\t1\tK.A.R\tP",
		"a_3\t1\t3\t1\t1\t1\t0\t0\t0\t1\tK.A.R\tP",
		"a_4\t1\t4\t1\t1\t1\t0\t1\t0\t1\tK.A.R",
		"a_5\t1\t5\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tP",
	)
	r, err := NewReader(strings.NewReader(in), Options{OneHotCharge: true})
	require.NoError(t, err)

	var scans []int
	for r.Next() {
		scans = append(scans, r.PSM().Key.Scan)
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []int{5}, scans)
	assert.Equal(t, 4, r.Skipped())
}

func TestInvalidLabelIsFatal(t *testing.T) {
	in := pinRows(
		"a_1\t1\t1\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tP",
		"a_2\t0\t2\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tP",
		"a_3\t1\t3\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tP",
	)
	r, err := NewReader(strings.NewReader(in), Options{OneHotCharge: true})
	require.NoError(t, err)

	assert.True(t, r.Next())
	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), core.ErrInvalidLabel)
}

func TestLoadKeepsBestPerKey(t *testing.T) {
	in := pinRows(
		"t_1_1\t1\t7\t1\t1\t2.0\t0\t1\t0\t1\tK.FIRST.R\tP",
		"t_2_1\t1\t7\t1\t1\t5.0\t0\t1\t0\t1\tK.BEST.R\tP",
		"t_3_1\t1\t7\t1\t1\t5.0\t0\t1\t0\t1\tK.TIE.R\tP",
		"t_4_1\t1\t7\t1\t1\t9.0\t0\t0\t1\t1\tK.OTHERZ.R\tP",
		"d_1_1\t-1\t7\t1\t1\t1.0\t0\t1\t0\t1\tK.DECOY.R\tP",
	)
	ds, err := Load(strings.NewReader(in), Options{OneHotCharge: true})
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "K.BEST.R", ds.Peptides[0])
	assert.Equal(t, 5.0, ds.Scores[0])
	assert.Equal(t, "K.OTHERZ.R", ds.Peptides[1])
	assert.Equal(t, core.Decoy, ds.Labels[2])
	assert.Equal(t, 2, ds.Keys[2].Charge)
	assert.Equal(t, 2, ds.Keys[0].Counter)
}

func TestLoadEmpty(t *testing.T) {
	_, err := Load(strings.NewReader(header), Options{OneHotCharge: true})
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = Load(strings.NewReader(""), Options{})
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestCharsetDecoding(t *testing.T) {
	in := pinRows("t_1_1\t1\t1\t1\t1\t1\t0\t1\t0\t1\tK.A.R\tPROT\xe9")
	r, err := NewReader(strings.NewReader(in), Options{OneHotCharge: true, Charset: "latin1"})
	require.NoError(t, err)
	require.True(t, r.Next())
	assert.Equal(t, "PROTé", r.PSM().Proteins)

	_, err = NewReader(strings.NewReader(in), Options{Charset: "no-such-charset"})
	assert.Error(t, err)
}

func TestSpecCounter(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"target_3_100_2_1", 3},
		{"plain", 0},
		{"a_b_c", 0},
	}
	for _, tt := range tests {
		if got := specCounter(tt.id); got != tt.want {
			t.Errorf("specCounter(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}
