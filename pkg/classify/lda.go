package classify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// LDA is Fisher's linear discriminant with a pooled, ridge-regularized
// within-class covariance.
type LDA struct {
	// Shrinkage scales the ridge added to the covariance diagonal,
	// relative to its mean variance.
	Shrinkage float64
}

// Fit solves Sw w = mu1 - mu0 and places the bias at the midpoint of the
// class means shifted by the log prior ratio.
func (l *LDA) Fit(x [][]float64, y []core.Label) (Model, error) {
	p, nPos, nNeg, err := checkShape(x, y)
	if err != nil {
		return nil, err
	}
	if nPos < 2 || nNeg < 2 {
		return nil, fmt.Errorf("%w: %d targets, %d decoys", ErrSingleClass, nPos, nNeg)
	}

	pos := mat.NewDense(nPos, p, nil)
	neg := mat.NewDense(nNeg, p, nil)
	ip, in := 0, 0
	for i, row := range x {
		if y[i] == core.Target {
			pos.SetRow(ip, row)
			ip++
		} else {
			neg.SetRow(in, row)
			in++
		}
	}

	muPos := columnMeans(pos)
	muNeg := columnMeans(neg)

	var covPos, covNeg mat.SymDense
	stat.CovarianceMatrix(&covPos, pos, nil)
	stat.CovarianceMatrix(&covNeg, neg, nil)

	sw := mat.NewSymDense(p, nil)
	fPos, fNeg, dof := float64(nPos-1), float64(nNeg-1), float64(nPos+nNeg-2)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			sw.SetSym(i, j, (fPos*covPos.At(i, j)+fNeg*covNeg.At(i, j))/dof)
		}
	}

	ridge := l.Shrinkage*mat.Trace(sw)/float64(p) + 1e-9
	for i := 0; i < p; i++ {
		sw.SetSym(i, i, sw.At(i, i)+ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sw); !ok {
		return nil, fmt.Errorf("%w: within-class covariance is not positive definite", ErrNotConverged)
	}

	diff := make([]float64, p)
	floats.SubTo(diff, muPos, muNeg)
	w := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(w, mat.NewVecDense(p, diff)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("failed to solve discriminant: %w", err)
		}
	}

	weights := make([]float64, p)
	copy(weights, w.RawVector().Data)
	if !finite(weights) {
		return nil, fmt.Errorf("%w: non-finite discriminant", ErrNotConverged)
	}

	mid := make([]float64, p)
	floats.AddTo(mid, muPos, muNeg)
	floats.Scale(0.5, mid)
	bias := -floats.Dot(mid, weights) + math.Log(float64(nPos)/float64(nNeg))

	return &Linear{W: weights, B: bias}, nil
}

func columnMeans(m *mat.Dense) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		out[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	return out
}
