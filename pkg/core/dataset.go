package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooFewRows is returned when a dataset cannot be split into folds.
var ErrTooFewRows = errors.New("too few PSMs")

// Dataset is the feature matrix and label vector the pipeline works on.
// Row order is fixed once built; components refer to rows by index only.
type Dataset struct {
	FeatureNames []string
	X            [][]float64 // One feature vector per row
	Labels       []Label
	Keys         []Key
	IDs          []string
	Scores       []float64 // Raw search engine score per row
	Peptides     []string
	Proteins     []string
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// NumFeatures returns the number of feature columns.
func (d *Dataset) NumFeatures() int {
	return len(d.FeatureNames)
}

// Column returns a copy of feature column j.
func (d *Dataset) Column(j int) []float64 {
	col := make([]float64, len(d.X))
	for i, row := range d.X {
		col[i] = row[j]
	}
	return col
}

// ColumnAt returns feature column j restricted to the given rows.
func (d *Dataset) ColumnAt(j int, rows []int) []float64 {
	col := make([]float64, len(rows))
	for i, r := range rows {
		col[i] = d.X[r][j]
	}
	return col
}

// Rows returns the feature vectors and labels of the given rows.
// The feature vectors are shared with the dataset and must not be modified.
func (d *Dataset) Rows(rows []int) ([][]float64, []Label) {
	x := make([][]float64, len(rows))
	y := make([]Label, len(rows))
	for i, r := range rows {
		x[i] = d.X[r]
		y[i] = d.Labels[r]
	}
	return x, y
}

// LabelsAt returns the labels of the given rows.
func (d *Dataset) LabelsAt(rows []int) []Label {
	y := make([]Label, len(rows))
	for i, r := range rows {
		y[i] = d.Labels[r]
	}
	return y
}

// Counts returns the number of target and decoy rows.
func (d *Dataset) Counts() (targets, decoys int) {
	return CountLabels(d.Labels)
}

// TargetDecoyRatio returns #targets / max(1, #decoys).
func (d *Dataset) TargetDecoyRatio() float64 {
	t, dc := d.Counts()
	return float64(t) / math.Max(1, float64(dc))
}

// CountLabels counts targets and decoys in a label vector.
func CountLabels(labels []Label) (targets, decoys int) {
	for _, l := range labels {
		if l == Target {
			targets++
		} else {
			decoys++
		}
	}
	return targets, decoys
}

// Validate checks that all parallel slices agree in length and that
// every feature vector has the expected width.
func (d *Dataset) Validate() error {
	n := len(d.Labels)
	if len(d.X) != n || len(d.Keys) != n || len(d.IDs) != n ||
		len(d.Scores) != n || len(d.Peptides) != n || len(d.Proteins) != n {
		return &ValidationError{
			Field:   "Dataset",
			Message: "row-aligned slices differ in length",
		}
	}
	m := len(d.FeatureNames)
	for i, row := range d.X {
		if len(row) != m {
			return &ValidationError{
				Field:   "Dataset",
				Message: fmt.Sprintf("row %d has %d features, expected %d", i, len(row), m),
			}
		}
	}
	return nil
}

// AddColumn appends a feature column. values must have one entry per row.
func (d *Dataset) AddColumn(name string, values []float64) error {
	if len(values) != d.Len() {
		return fmt.Errorf("column %s: got %d values for %d rows", name, len(values), d.Len())
	}
	d.FeatureNames = append(d.FeatureNames, name)
	for i := range d.X {
		d.X[i] = append(d.X[i], values[i])
	}
	return nil
}

// FeatureIndex returns the column index of the named feature, or -1.
func (d *Dataset) FeatureIndex(name string) int {
	for i, n := range d.FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}

type builderKey struct {
	label Label
	key   Key
}

// Builder accumulates PSMs into a Dataset, keeping for each label only
// the best-scoring PSM per (scan, charge). Ties keep the PSM seen first.
type Builder struct {
	ds   *Dataset
	rows map[builderKey]int
}

// NewBuilder creates a builder for PSMs with the given feature columns.
func NewBuilder(featureNames []string) *Builder {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return &Builder{
		ds:   &Dataset{FeatureNames: names},
		rows: make(map[builderKey]int),
	}
}

// Add offers a PSM to the builder. It reports whether the PSM was kept,
// either as a new row or as a replacement of a lower-scoring one.
func (b *Builder) Add(p *PSM) (bool, error) {
	if err := p.Validate(len(b.ds.FeatureNames)); err != nil {
		return false, err
	}

	k := builderKey{label: p.Label, key: p.Key.SpectrumKey()}
	if row, ok := b.rows[k]; ok {
		if p.Score <= b.ds.Scores[row] {
			return false, nil
		}
		b.set(row, p)
		return true, nil
	}

	row := b.ds.Len()
	b.rows[k] = row
	b.ds.X = append(b.ds.X, nil)
	b.ds.Labels = append(b.ds.Labels, p.Label)
	b.ds.Keys = append(b.ds.Keys, Key{})
	b.ds.IDs = append(b.ds.IDs, "")
	b.ds.Scores = append(b.ds.Scores, 0)
	b.ds.Peptides = append(b.ds.Peptides, "")
	b.ds.Proteins = append(b.ds.Proteins, "")
	b.set(row, p)
	return true, nil
}

func (b *Builder) set(row int, p *PSM) {
	features := make([]float64, len(p.Features))
	copy(features, p.Features)
	b.ds.X[row] = features
	b.ds.Keys[row] = p.Key
	b.ds.IDs[row] = p.ID
	b.ds.Scores[row] = p.Score
	b.ds.Peptides[row] = p.Peptide
	b.ds.Proteins[row] = p.Proteins
}

// Dataset returns the accumulated dataset.
func (b *Builder) Dataset() *Dataset {
	return b.ds
}
