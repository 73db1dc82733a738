package qvalue

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// Calibration holds the two anchors used to put scores from independently
// trained folds on a common scale.
type Calibration struct {
	// Threshold is the lowest score still accepted at the q-value threshold,
	// or the best score when nothing is accepted.
	Threshold float64
	// DecoyMedian is the lower median of the decoy scores. Without decoys it
	// is one above the best score.
	DecoyMedian float64
	// NoDecoys is set when the sentinel DecoyMedian was used.
	NoDecoys bool
}

// MedianDecoyScore computes the calibration anchors of a score list at thresh.
func MedianDecoyScore(scores []float64, labels []core.Label, thresh float64) (Calibration, error) {
	var c Calibration
	sorted, err := Sort(scores, labels)
	if err != nil {
		return c, err
	}
	q := Compute(sorted, Options{Pi0: 1.0})

	c.Threshold = sorted[0].Score
	for i, s := range sorted {
		if q[i] > thresh {
			break
		}
		c.Threshold = s.Score
	}

	var decoys []float64
	for _, s := range sorted {
		if s.Label == core.Decoy {
			decoys = append(decoys, s.Score)
		}
	}
	if len(decoys) == 0 {
		c.DecoyMedian = sorted[0].Score + 1
		c.NoDecoys = true
		return c, nil
	}
	sort.Float64s(decoys)
	c.DecoyMedian = stat.Quantile(0.5, stat.Empirical, decoys, nil)
	return c, nil
}
