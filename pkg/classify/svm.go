package classify

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

const defaultMaxIter = 1000

// SVM is a linear support vector machine with squared hinge loss and
// per-class costs, trained in the primal with L-BFGS. The bias is
// regularized like the weights.
type SVM struct {
	Params
	MaxIter int
}

// Fit minimizes 0.5 |(w, b)|^2 + sum_i C_i max(0, 1 - y_i (w·x_i + b))^2.
func (s *SVM) Fit(x [][]float64, y []core.Label) (Model, error) {
	obj := hingeObjective{params: s.Params, lambda: 1, lossScale: 1}
	return fitMargin(&obj, x, y, s.MaxIter, &optimize.LBFGS{})
}

// SVMLin is the large-margin linear solver used for wide, sparse feature
// sets: the same squared hinge objective with the loss halved, minimized by
// nonlinear conjugate gradients.
type SVMLin struct {
	Params
	MaxIter int
}

// Fit minimizes 0.5 |(w, b)|^2 + 0.5 sum_i C_i max(0, 1 - y_i (w·x_i + b))^2.
func (s *SVMLin) Fit(x [][]float64, y []core.Label) (Model, error) {
	obj := hingeObjective{params: s.Params, lambda: 1, lossScale: 0.5}
	return fitMargin(&obj, x, y, s.MaxIter, &optimize.CG{})
}

type hingeObjective struct {
	params    Params
	lambda    float64
	lossScale float64

	x    [][]float64
	y    []float64
	cost []float64
}

func (h *hingeObjective) bind(x [][]float64, labels []core.Label) {
	h.x = x
	h.y = make([]float64, len(labels))
	h.cost = make([]float64, len(labels))
	for i, l := range labels {
		if l == core.Target {
			h.y[i], h.cost[i] = 1, h.params.CPos
		} else {
			h.y[i], h.cost[i] = -1, h.params.CNeg
		}
	}
}

// theta holds the weights followed by the bias.
func (h *hingeObjective) f(theta []float64) float64 {
	p := len(theta) - 1
	w, b := theta[:p], theta[p]
	v := 0.5 * h.lambda * floats.Dot(theta, theta)
	for i, row := range h.x {
		m := 1 - h.y[i]*(floats.Dot(w, row)+b)
		if m > 0 {
			v += h.lossScale * h.cost[i] * m * m
		}
	}
	return v
}

func (h *hingeObjective) grad(grad, theta []float64) {
	p := len(theta) - 1
	w, b := theta[:p], theta[p]
	for j := range grad {
		grad[j] = h.lambda * theta[j]
	}
	for i, row := range h.x {
		m := 1 - h.y[i]*(floats.Dot(w, row)+b)
		if m <= 0 {
			continue
		}
		g := -2 * h.lossScale * h.cost[i] * m * h.y[i]
		floats.AddScaled(grad[:p], g, row)
		grad[p] += g
	}
}

func fitMargin(obj *hingeObjective, x [][]float64, y []core.Label, maxIter int, method optimize.Method) (Model, error) {
	p, nPos, nNeg, err := checkShape(x, y)
	if err != nil {
		return nil, err
	}
	if nPos == 0 || nNeg == 0 {
		return nil, fmt.Errorf("%w: %d targets, %d decoys", ErrSingleClass, nPos, nNeg)
	}
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	obj.bind(x, y)

	problem := optimize.Problem{
		Func: obj.f,
		Grad: obj.grad,
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-6,
		MajorIterations:   maxIter,
	}
	// Minimize may report a stalled line search alongside usable weights.
	res, err := optimize.Minimize(problem, make([]float64, p+1), settings, method)
	if res == nil || !finite(res.X) {
		if err == nil {
			err = ErrNotConverged
		}
		return nil, fmt.Errorf("failed to fit margin classifier: %w", err)
	}
	w := make([]float64, p)
	copy(w, res.X[:p])
	return &Linear{W: w, B: res.X[p]}, nil
}
