// Package fold partitions dataset rows into cross-validation folds.
package fold

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// K is the number of folds used by the trainer.
const K = 3

// Assignment is a fixed partition of row indices into K folds.
type Assignment struct {
	n     int
	folds [K][]int
}

// New shuffles the indices 0..n-1 and cuts them into K contiguous slices.
// The first K-1 slices hold n/K indices each and the last takes the rest.
// A seed <= 0 draws a non-reproducible shuffle.
func New(n int, seed int64) (*Assignment, error) {
	if n < K {
		return nil, fmt.Errorf("%w: need at least %d rows for %d folds, got %d", core.ErrTooFewRows, K, K, n)
	}

	var perm []int
	if seed > 0 {
		r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
		perm = r.Perm(n)
	} else {
		perm = rand.Perm(n)
	}
	return fromPermutation(perm), nil
}

func fromPermutation(perm []int) *Assignment {
	n := len(perm)
	m := n / K
	a := &Assignment{n: n}
	for i := 0; i < K; i++ {
		lo, hi := i*m, (i+1)*m
		if i == K-1 {
			hi = n
		}
		f := make([]int, hi-lo)
		copy(f, perm[lo:hi])
		sort.Ints(f)
		a.folds[i] = f
	}
	return a
}

// Len returns the number of rows partitioned.
func (a *Assignment) Len() int { return a.n }

// Test returns the held-out rows of fold k in ascending order.
func (a *Assignment) Test(k int) []int {
	return a.folds[k]
}

// Train returns the rows of every fold except k in ascending order.
func (a *Assignment) Train(k int) []int {
	out := make([]int, 0, a.n-len(a.folds[k]))
	for i := 0; i < K; i++ {
		if i != k {
			out = append(out, a.folds[i]...)
		}
	}
	sort.Ints(out)
	return out
}

// Of returns the fold index of every row.
func (a *Assignment) Of() []int {
	out := make([]int, a.n)
	for k, f := range a.folds {
		for _, r := range f {
			out[r] = k
		}
	}
	return out
}
