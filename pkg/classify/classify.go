// Package classify provides the linear discriminants used to rescore PSMs.
//
// Every backend fits a Linear model from a feature matrix and target/decoy
// labels. Callers pick a backend by Method and never inspect the concrete
// fitter type. The margin backends take per-class misclassification costs
// (Params) that the trainer tunes with a small grid search.
package classify

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

var (
	// ErrUnknownMethod is returned for an unrecognized backend name.
	ErrUnknownMethod = errors.New("classify: unknown method")
	// ErrSingleClass is returned when the training set lacks enough rows of one class.
	ErrSingleClass = errors.New("classify: training set needs both targets and decoys")
	// ErrDimension is returned when rows and labels disagree or rows differ in width.
	ErrDimension = errors.New("classify: dimension mismatch")
	// ErrNotConverged is returned when a solver produced no usable weights.
	ErrNotConverged = errors.New("classify: solver failed")
)

// Method selects a discriminant backend.
type Method string

const (
	MethodLDA    Method = "lda"
	MethodSVM    Method = "svm"
	MethodSVMLin Method = "svmlin"
)

// ParseMethod accepts a backend name or the legacy numeric code (0, 1, 2).
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lda", "0":
		return MethodLDA, nil
	case "svm", "tron", "1":
		return MethodSVM, nil
	case "svmlin", "2":
		return MethodSVMLin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Tuned reports whether the backend takes class costs from a grid search.
func (m Method) Tuned() bool {
	return m == MethodSVM || m == MethodSVMLin
}

// Alpha is the factor applied to both class costs of a grid cell.
func (m Method) Alpha() float64 {
	if m == MethodSVM {
		return 0.5
	}
	return 1.0
}

// Params are the misclassification costs for targets and decoys.
type Params struct {
	CPos float64
	CNeg float64
}

func (p Params) String() string {
	return fmt.Sprintf("cpos=%g cneg=%g", p.CPos, p.CNeg)
}

// Grid returns the cost grid of a tuned backend in evaluation order:
// every cpos, and for each one cneg = cpos * ratio * tdRatio for every ratio.
// Untuned backends get a single zero cell.
func (m Method) Grid(cpos, ratios []float64, tdRatio float64) []Params {
	if !m.Tuned() {
		return []Params{{}}
	}
	a := m.Alpha()
	grid := make([]Params, 0, len(cpos)*len(ratios))
	for _, cp := range cpos {
		for _, r := range ratios {
			grid = append(grid, Params{CPos: a * cp, CNeg: a * cp * r * tdRatio})
		}
	}
	return grid
}

// Model scores feature vectors. Larger scores are more target-like.
type Model interface {
	Score(x [][]float64) []float64
}

// Fitter trains a Model on labeled rows.
type Fitter interface {
	Fit(x [][]float64, y []core.Label) (Model, error)
}

// Options holds backend settings that are not tuned per fold.
type Options struct {
	LDAShrinkage float64
	MaxIter      int
}

// New returns the fitter for method m with class costs p.
func New(m Method, p Params, opts Options) (Fitter, error) {
	switch m {
	case MethodLDA:
		return &LDA{Shrinkage: opts.LDAShrinkage}, nil
	case MethodSVM:
		return &SVM{Params: p, MaxIter: opts.MaxIter}, nil
	case MethodSVMLin:
		return &SVMLin{Params: p, MaxIter: opts.MaxIter}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(m))
}

// Linear is a hyperplane model: score = W·x + B.
type Linear struct {
	W []float64
	B float64
}

// Score returns W·x + B for every row.
func (l *Linear) Score(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = floats.Dot(l.W, row) + l.B
	}
	return out
}

// Direction returns a model that scores rows by a single feature column.
func Direction(p, col int) *Linear {
	w := make([]float64, p)
	w[col] = 1
	return &Linear{W: w}
}

func checkShape(x [][]float64, y []core.Label) (p, nPos, nNeg int, err error) {
	if len(x) != len(y) {
		return 0, 0, 0, fmt.Errorf("%w: %d rows, %d labels", ErrDimension, len(x), len(y))
	}
	if len(x) == 0 {
		return 0, 0, 0, ErrSingleClass
	}
	p = len(x[0])
	for i, row := range x {
		if len(row) != p {
			return 0, 0, 0, fmt.Errorf("%w: row %d has %d features, expected %d", ErrDimension, i, len(row), p)
		}
	}
	nPos, nNeg = core.CountLabels(y)
	return p, nPos, nNeg, nil
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
