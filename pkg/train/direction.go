package train

import (
	"fmt"

	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
)

// DirectionCount is the number of targets a single feature column accepts.
type DirectionCount struct {
	Column  int
	Name    string
	Targets int
}

// ScanDirections scores the given rows by every feature column in turn and
// counts the targets accepted at thresh.
func ScanDirections(ds *core.Dataset, rows []int, thresh float64) ([]DirectionCount, error) {
	labels := ds.LabelsAt(rows)
	out := make([]DirectionCount, ds.NumFeatures())
	for j := range out {
		n, err := qvalue.CountTargets(ds.ColumnAt(j, rows), labels, thresh, true)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate feature %s: %w", ds.FeatureNames[j], err)
		}
		out[j] = DirectionCount{Column: j, Name: ds.FeatureNames[j], Targets: n}
	}
	return out, nil
}

// SelectDirection returns the feature column accepting the most targets on
// the given rows. Ties go to the lower column index.
func SelectDirection(ds *core.Dataset, rows []int, thresh float64) (DirectionCount, error) {
	if ds.NumFeatures() == 0 {
		return DirectionCount{}, ErrNoFeatures
	}
	counts, err := ScanDirections(ds, rows, thresh)
	if err != nil {
		return DirectionCount{}, err
	}
	best := counts[0]
	for _, c := range counts[1:] {
		if c.Targets > best.Targets {
			best = c
		}
	}
	return best, nil
}

// FixedDirection evaluates a caller-chosen column on the given rows.
func FixedDirection(ds *core.Dataset, rows []int, col int, thresh float64) (DirectionCount, error) {
	if col < 0 || col >= ds.NumFeatures() {
		return DirectionCount{}, fmt.Errorf("initial direction %d out of range [0, %d)", col, ds.NumFeatures())
	}
	n, err := qvalue.CountTargets(ds.ColumnAt(col, rows), ds.LabelsAt(rows), thresh, true)
	if err != nil {
		return DirectionCount{}, err
	}
	return DirectionCount{Column: col, Name: ds.FeatureNames[col], Targets: n}, nil
}
