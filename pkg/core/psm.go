// Package core provides the in-memory model shared by the psmrank pipeline:
// peptide-spectrum matches, their composite keys and labels, and the
// feature matrix built from them.
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Label marks a PSM as coming from the target or the decoy search space.
type Label int8

const (
	Decoy  Label = -1
	Target Label = 1
)

// ErrInvalidLabel is returned for label values other than 1 and -1.
var ErrInvalidLabel = errors.New("label must be 1 (target) or -1 (decoy)")

// ParseLabel converts the PIN label column value.
func ParseLabel(s string) (Label, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return Target, nil
	case "-1":
		return Decoy, nil
	}
	return 0, fmt.Errorf("%w: got %q", ErrInvalidLabel, s)
}

// IsTarget reports whether l is the target label.
func (l Label) IsTarget() bool { return l == Target }

// Kind returns the single-letter kind used in output tables ("t" or "d").
func (l Label) Kind() string {
	if l == Target {
		return "t"
	}
	return "d"
}

func (l Label) String() string {
	if l == Target {
		return "target"
	}
	return "decoy"
}

// Key identifies the spectrum a PSM was matched against.
// Counter disambiguates repeated (scan, charge) entries and is zero when absent.
type Key struct {
	Scan    int
	Charge  int
	Counter int
}

func (k Key) String() string {
	if k.Counter != 0 {
		return fmt.Sprintf("%d/%d/%d", k.Scan, k.Charge, k.Counter)
	}
	return fmt.Sprintf("%d/%d", k.Scan, k.Charge)
}

// SpectrumKey drops the counter, giving the key used for best-PSM selection.
func (k Key) SpectrumKey() Key {
	return Key{Scan: k.Scan, Charge: k.Charge}
}

// PSM is a single peptide-spectrum match as read from the search engine output.
type PSM struct {
	ID       string  // SpecId column
	Key      Key     // Scan, charge and optional counter
	Label    Label   // Target or decoy
	Score    float64 // Raw search engine score (score or xcorr column)
	Features []float64
	Peptide  string // Peptide string including flanking residues
	Proteins string // Protein assignment(s)
}

// ValidationError represents an error found during PSM or dataset validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a PSM can be added to a dataset with nFeatures columns.
func (p *PSM) Validate(nFeatures int) error {
	var errs []string

	if p.Label != Target && p.Label != Decoy {
		errs = append(errs, fmt.Sprintf("invalid label %d", p.Label))
	}
	if p.Key.Charge <= 0 {
		errs = append(errs, "charge must be positive")
	}
	if math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
		errs = append(errs, "score must be finite")
	}
	if len(p.Features) != nFeatures {
		errs = append(errs, fmt.Sprintf("expected %d features, got %d", nFeatures, len(p.Features)))
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "PSM " + p.ID,
			Message: strings.Join(errs, "; "),
		}
	}
	return nil
}

// StrippedPeptide returns the peptide without flanking residues,
// e.g. "K.PEPTIDE.R" becomes "PEPTIDE". Peptides without flanks are returned as is.
func (p *PSM) StrippedPeptide() string {
	return StripFlanks(p.Peptide)
}

// StripFlanks removes the "X." prefix and ".X" suffix of a flanked peptide string.
func StripFlanks(peptide string) string {
	if len(peptide) >= 4 && peptide[1] == '.' && peptide[len(peptide)-2] == '.' {
		return peptide[2 : len(peptide)-2]
	}
	return peptide
}
