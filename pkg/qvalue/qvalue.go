// Package qvalue estimates false discovery rates and q-values for ranked
// target/decoy score lists.
//
// The estimator walks the scores from best to worst, computing at every
// distinct score the ratio of decoys to targets at or above it. With a
// null proportion pi0 below one the decoy count is corrected with the
// mix-max estimate of false discoveries among the targets. The resulting
// FDR sequence is turned into q-values by a running minimum from the worst
// score upwards, so q-values never decrease as the rank worsens.
package qvalue

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

var (
	// ErrLengthMismatch is returned when scores and labels differ in length.
	ErrLengthMismatch = errors.New("qvalue: number of scores does not match number of labels")
	// ErrEmptyInput is returned for an empty score list.
	ErrEmptyInput = errors.New("qvalue: empty score list")
	// ErrNaNScore is returned when a score is NaN and cannot be ranked.
	ErrNaNScore = errors.New("qvalue: NaN score")
	// ErrInvalidPi0 is returned for a null proportion outside (0, 1].
	ErrInvalidPi0 = errors.New("qvalue: pi0 must be in (0, 1]")
)

// Scored is one element of a ranked list: a score, its label and the
// position of the element in the caller's input.
type Scored struct {
	Score float64
	Label core.Label
	Index int
}

// Options controls the FDR estimate.
type Options struct {
	// Pi0 is the estimated proportion of null targets. 1.0 gives plain
	// target-decoy competition.
	Pi0 float64
	// SkipDecoysPlusOne starts the decoy count at 0 instead of 1.
	SkipDecoysPlusOne bool
}

// Sort pairs scores with labels and input indices and sorts them by
// descending score. Equal scores put targets first, then higher indices.
func Sort(scores []float64, labels []core.Label) ([]Scored, error) {
	if len(scores) != len(labels) {
		return nil, fmt.Errorf("%w: %d scores, %d labels", ErrLengthMismatch, len(scores), len(labels))
	}
	if len(scores) == 0 {
		return nil, ErrEmptyInput
	}
	all := make([]Scored, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			return nil, fmt.Errorf("%w at index %d", ErrNaNScore, i)
		}
		all[i] = Scored{Score: s, Label: labels[i], Index: i}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Label != b.Label {
			return a.Label > b.Label
		}
		return a.Index > b.Index
	})
	return all, nil
}

// mixMaxHistogram walks the sorted list from the worst score upwards and
// records, once per decoy, the number of targets and decoys scoring at or
// below that decoy's score block. Entry 0 belongs to the lowest decoy.
func mixMaxHistogram(sorted []Scored) (wLE, zLE []float64) {
	var cntW, cntZ, queue int
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Label == core.Target {
			cntW++
		} else {
			cntZ++
			queue++
		}
		if i == 0 || sorted[i].Score != sorted[i-1].Score {
			for ; queue > 0; queue-- {
				wLE = append(wLE, float64(cntW))
				zLE = append(zLE, float64(cntZ))
			}
		}
	}
	return wLE, zLE
}

// FDR returns the estimated false discovery rate at every position of a
// list sorted by Sort. Tied scores form one block and share one value.
func FDR(sorted []Scored, opts Options) []float64 {
	pi0 := opts.Pi0
	var wLE, zLE []float64
	if pi0 < 1.0 {
		wLE, zLE = mixMaxHistogram(sorted)
	}

	fdrs := make([]float64, 0, len(sorted))
	nZ := 1 // decoys at or above the threshold, seeded for small samples
	if opts.SkipDecoysPlusOne {
		nZ = 0
	}
	nW := 0
	decoysSeen := 0
	estFalse := 0.0
	decoyQueue, targetQueue := 0, 0

	for i, s := range sorted {
		if s.Label == core.Target {
			nW++
			targetQueue++
		} else {
			nZ++
			decoysSeen++
			decoyQueue++
		}
		if i < len(sorted)-1 && s.Score == sorted[i+1].Score {
			continue
		}

		if pi0 < 1.0 && decoyQueue > 0 {
			j := len(wLE) - decoysSeen
			cntW, cntZ := wLE[j], zLE[j]
			estPx := (cntW - pi0*cntZ) / ((1.0 - pi0) * cntZ)
			estPx = math.Max(0, math.Min(1, estPx))
			estFalse += float64(decoyQueue) * estPx * (1.0 - pi0)
		}

		// Decoys in the block receive the block's value like targets do.
		targetQueue += decoyQueue

		fdr := (float64(nZ)*pi0 + estFalse) / math.Max(1, float64(nW))
		fdr = math.Min(fdr, 1.0)
		for ; targetQueue > 0; targetQueue-- {
			fdrs = append(fdrs, fdr)
		}
		decoyQueue = 0
	}
	return fdrs
}

// Compute returns q-values for a list sorted by Sort, in sorted order.
func Compute(sorted []Scored, opts Options) []float64 {
	q := FDR(sorted, opts)
	for i := len(q) - 2; i >= 0; i-- {
		if q[i+1] < q[i] {
			q[i] = q[i+1]
		}
	}
	return q
}

// QValues returns one q-value per input score, aligned with the input.
func QValues(scores []float64, labels []core.Label, opts Options) ([]float64, error) {
	if opts.Pi0 <= 0 || opts.Pi0 > 1 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidPi0, opts.Pi0)
	}
	sorted, err := Sort(scores, labels)
	if err != nil {
		return nil, err
	}
	q := Compute(sorted, opts)
	out := make([]float64, len(q))
	for i, s := range sorted {
		out[s.Index] = q[i]
	}
	return out, nil
}

// Result is the outcome of CalcQ.
type Result struct {
	Targets []int     // Input indices of targets accepted at the threshold
	Decoys  []int     // Input indices of decoys accepted at the threshold
	QValues []float64 // One q-value per input score, aligned with the input
}

// CalcQ computes plain target-decoy q-values (pi0 = 1) and collects the
// targets and decoys ranked above the first q-value exceeding thresh.
func CalcQ(scores []float64, labels []core.Label, thresh float64, skipDecoysPlusOne bool) (Result, error) {
	var res Result
	sorted, err := Sort(scores, labels)
	if err != nil {
		return res, err
	}
	q := Compute(sorted, Options{Pi0: 1.0, SkipDecoysPlusOne: skipDecoysPlusOne})

	for i, s := range sorted {
		if q[i] > thresh {
			break
		}
		if s.Label == core.Target {
			res.Targets = append(res.Targets, s.Index)
		} else {
			res.Decoys = append(res.Decoys, s.Index)
		}
	}

	res.QValues = make([]float64, len(q))
	for i, s := range sorted {
		res.QValues[s.Index] = q[i]
	}
	return res, nil
}

// CountTargets returns the number of targets accepted at thresh.
func CountTargets(scores []float64, labels []core.Label, thresh float64, skipDecoysPlusOne bool) (int, error) {
	res, err := CalcQ(scores, labels, thresh, skipDecoysPlusOne)
	if err != nil {
		return 0, err
	}
	return len(res.Targets), nil
}
