// Package filter provides feature transformations applied to a loaded dataset
package filter

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// Normalization selects how feature columns are scaled
type Normalization string

const (
	NormStandard Normalization = "standard" // zero mean, unit population variance
	NormMinMax   Normalization = "minmax"   // rescale to [0, 1]
	NormNone     Normalization = "none"
)

// ParseNormalization converts a normalization name. The empty string means standard.
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "std", "z":
		return NormStandard, nil
	case "minmax", "min-max":
		return NormMinMax, nil
	case "none", "off":
		return NormNone, nil
	}
	return "", fmt.Errorf("unknown normalization %q", s)
}

// Config holds feature transformation configuration
type Config struct {
	Normalization  Normalization // Column scaling applied last
	PeptideProphet bool          // Append the ppDisc discriminant feature
	Logger         *slog.Logger
}

// Apply applies all configured transformations to a dataset
func (c *Config) Apply(ds *core.Dataset) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Derived features first so they are imputed and scaled like the rest
	if c.PeptideProphet {
		disc, err := PeptideProphetScores(ds, logger)
		if err != nil {
			return err
		}
		if err := ds.AddColumn(PeptideProphetFeature, disc); err != nil {
			return err
		}
	}

	if n := Impute(ds); n > 0 {
		logger.Info("imputed missing feature values", "cells", n)
	}

	switch c.Normalization {
	case NormStandard, "":
		Standardize(ds)
	case NormMinMax:
		MinMax(ds)
	case NormNone:
	default:
		return fmt.Errorf("unknown normalization %q", c.Normalization)
	}

	return ds.Validate()
}

// Impute replaces NaN and infinite cells with the mean of the finite values
// in their column, or 0 when a column has none. It returns the number of cells replaced.
func Impute(ds *core.Dataset) int {
	replaced := 0
	for j := 0; j < ds.NumFeatures(); j++ {
		var sum float64
		var n int
		for _, row := range ds.X {
			if v := row[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum += v
				n++
			}
		}
		if n == len(ds.X) {
			continue
		}
		fill := 0.0
		if n > 0 {
			fill = sum / float64(n)
		}
		for _, row := range ds.X {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				row[j] = fill
				replaced++
			}
		}
	}
	return replaced
}

// Standardize scales every column to zero mean and unit population variance.
// Constant columns are only centered.
func Standardize(ds *core.Dataset) {
	for j := 0; j < ds.NumFeatures(); j++ {
		col := ds.Column(j)
		mean, variance := stat.PopMeanVariance(col, nil)
		std := math.Sqrt(variance)
		for _, row := range ds.X {
			row[j] -= mean
			if std > 0 {
				row[j] /= std
			}
		}
	}
}

// MinMax rescales every column to [0, 1]. Constant columns become 0.
func MinMax(ds *core.Dataset) {
	if ds.Len() == 0 {
		return
	}
	for j := 0; j < ds.NumFeatures(); j++ {
		col := ds.Column(j)
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		for _, row := range ds.X {
			row[j] -= lo
			if span > 0 {
				row[j] /= span
			}
		}
	}
}
