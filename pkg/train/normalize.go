package train

import (
	"fmt"
	"log/slog"

	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/fold"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
)

// Scale is the affine map applied to one fold: (s - Shift) / Denom.
type Scale struct {
	Shift    float64
	Denom    float64
	Fallback bool // u - d <= 0, Denom forced to 1
	NoDecoys bool
}

// FoldScale computes the median-decoy calibration of one fold's scores.
func FoldScale(scores []float64, labels []core.Label, thresh float64) (Scale, error) {
	c, err := qvalue.MedianDecoyScore(scores, labels, thresh)
	if err != nil {
		return Scale{}, err
	}
	s := Scale{Shift: c.Threshold, Denom: c.Threshold - c.DecoyMedian, NoDecoys: c.NoDecoys}
	if s.Denom <= 0 {
		s.Denom = 1
		s.Fallback = true
	}
	return s, nil
}

// Apply maps a score through the calibration.
func (s Scale) Apply(v float64) float64 {
	return (v - s.Shift) / s.Denom
}

// MergeScores rescales each fold's held-out scores so that the score
// accepted at thresh maps to 0 and the decoy median maps to -1, making the
// three independently trained folds comparable. scores is not modified.
func MergeScores(scores []float64, labels []core.Label, folds *fold.Assignment, thresh float64, logger *slog.Logger) ([]float64, [fold.K]Scale, error) {
	var scales [fold.K]Scale
	if logger == nil {
		logger = slog.Default()
	}
	if len(scores) != folds.Len() || len(labels) != folds.Len() {
		return nil, scales, fmt.Errorf("%w: %d scores, %d labels, %d rows", qvalue.ErrLengthMismatch, len(scores), len(labels), folds.Len())
	}

	out := make([]float64, len(scores))
	for k := 0; k < fold.K; k++ {
		test := folds.Test(k)
		fs := make([]float64, len(test))
		fl := make([]core.Label, len(test))
		for i, r := range test {
			fs[i], fl[i] = scores[r], labels[r]
		}
		s, err := FoldScale(fs, fl, thresh)
		if err != nil {
			return nil, scales, fmt.Errorf("fold %d: %w", k, err)
		}
		if s.Fallback {
			logger.Warn("degenerate fold calibration, using unit denominator",
				"fold", k, "threshold_score", s.Shift, "no_decoys", s.NoDecoys)
		}
		scales[k] = s
		for _, r := range test {
			out[r] = s.Apply(scores[r])
		}
	}
	return out, scales, nil
}
