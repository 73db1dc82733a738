package filter

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// PeptideProphetFeature is the name of the derived discriminant column
const PeptideProphetFeature = "ppDisc"

// Feature columns the discriminant is computed from
const (
	colDeltCn = "deltCn"
	colAbsdM  = "absdM"
	colLnrSp  = "lnrSp"
)

const xcorrFloorEps = 0.001

// ppCharge holds the discriminant weights for one precursor charge
type ppCharge struct {
	constant float64
	xcorr    float64
	deltCn   float64
	rank     float64
	massDiff float64
	maxLen   int
	numFrags int
}

// Charges 1 through 7, higher charges use the last entry
var ppTable = []ppCharge{
	{0.646, 5.49, 4.643, -0.455, -0.84, 100, 2},
	{-0.959, 8.362, 7.386, -0.194, -0.314, 15, 2},
	{-1.460, 9.933, 11.149, -0.201, -0.277, 25, 3},
	{-0.774, 1.465, 8.704, -0.331, -0.277, 50, 4},
	{-0.598, 3.89, 7.271, -0.377, -0.84, 100, 6},
	{-0.598, 3.89, 7.271, -0.377, -0.84, 100, 6},
	{-0.598, 3.89, 7.271, -0.377, -0.84, 100, 6},
}

func ppWeights(charge int) ppCharge {
	i := charge - 1
	if i < 0 {
		i = 0
	}
	if i >= len(ppTable) {
		i = len(ppTable) - 1
	}
	return ppTable[i]
}

// PeptideProphetScores computes the PeptideProphet-style discriminant for
// every row from the raw score, charge, peptide length and the deltCn,
// absdM and lnrSp features. Rows whose length-normalized xcorr cannot be
// computed get NaN and a warning.
func PeptideProphetScores(ds *core.Dataset, logger *slog.Logger) ([]float64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cols := make(map[string]int, 3)
	for _, name := range []string{colDeltCn, colAbsdM, colLnrSp} {
		j := ds.FeatureIndex(name)
		if j < 0 {
			return nil, fmt.Errorf("%s feature requires column %s", PeptideProphetFeature, name)
		}
		cols[name] = j
	}
	if ds.Len() == 0 {
		return nil, nil
	}

	floor := math.Inf(1)
	for _, s := range ds.Scores {
		floor = math.Min(floor, s)
	}
	floor -= xcorrFloorEps

	out := make([]float64, ds.Len())
	for i, row := range ds.X {
		w := ppWeights(ds.Keys[i].Charge)
		xc, err := normalizedXcorr(ds.Scores[i]-floor, len(ds.Peptides[i]), w)
		if err != nil {
			logger.Warn("cannot compute derived feature",
				"feature", PeptideProphetFeature, "psm", ds.IDs[i], "error", err)
			out[i] = math.NaN()
			continue
		}
		out[i] = w.constant +
			xc*w.xcorr +
			row[cols[colDeltCn]]*w.deltCn +
			row[cols[colAbsdM]]*w.massDiff +
			row[cols[colLnrSp]]*w.rank
	}
	return out, nil
}

// normalizedXcorr returns ln(xcorr) / ln(numFrags * min(length, maxLen)).
func normalizedXcorr(xcorr float64, length int, w ppCharge) (float64, error) {
	n := w.numFrags * length
	if length >= w.maxLen {
		n = w.numFrags * w.maxLen
	}
	if !(xcorr > 0) {
		return 0, fmt.Errorf("xcorr %g is not above the floor", xcorr)
	}
	if n <= 1 {
		return 0, fmt.Errorf("fragment count %d gives a zero log denominator", n)
	}
	return math.Log(xcorr) / math.Log(float64(n)), nil
}
