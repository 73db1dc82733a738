package classify

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianMixture1D is a two-component univariate Gaussian mixture.
type GaussianMixture1D struct {
	Weights [2]float64
	Means   [2]float64
	Sigmas  [2]float64
	Iter    int // EM iterations run
}

// FitGaussianMixture1D fits a two-component mixture to x by expectation
// maximization, starting from the lower and upper quartiles.
func FitGaussianMixture1D(x []float64, maxIter int, tol float64) (*GaussianMixture1D, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 scores for a mixture, got %d", ErrDimension, len(x))
	}
	if !finite(x) {
		return nil, fmt.Errorf("%w: non-finite score", ErrDimension)
	}
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}

	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	spread := stat.StdDev(x, nil)
	floor := 1e-6 * (sorted[len(sorted)-1] - sorted[0])
	if floor <= 0 {
		floor = 1e-9
	}
	if spread < floor {
		spread = floor
	}

	g := &GaussianMixture1D{
		Weights: [2]float64{0.5, 0.5},
		Means: [2]float64{
			stat.Quantile(0.25, stat.Empirical, sorted, nil),
			stat.Quantile(0.75, stat.Empirical, sorted, nil),
		},
		Sigmas: [2]float64{spread, spread},
	}

	resp := make([]float64, len(x))
	prev := math.Inf(-1)
	for it := 0; it < maxIter; it++ {
		g.Iter = it + 1
		ll := g.expect(x, resp)

		var n1, s1, s0 float64
		for i, v := range x {
			n1 += resp[i]
			s1 += resp[i] * v
			s0 += (1 - resp[i]) * v
		}
		n0 := float64(len(x)) - n1
		if n0 <= 0 || n1 <= 0 {
			break
		}
		g.Means[0], g.Means[1] = s0/n0, s1/n1
		var v0, v1 float64
		for i, v := range x {
			d0, d1 := v-g.Means[0], v-g.Means[1]
			v0 += (1 - resp[i]) * d0 * d0
			v1 += resp[i] * d1 * d1
		}
		g.Sigmas[0] = math.Max(math.Sqrt(v0/n0), floor)
		g.Sigmas[1] = math.Max(math.Sqrt(v1/n1), floor)
		g.Weights[0], g.Weights[1] = n0/float64(len(x)), n1/float64(len(x))

		if math.Abs(ll-prev) <= tol*math.Max(1, math.Abs(ll)) {
			break
		}
		prev = ll
	}
	return g, nil
}

// expect fills resp with the posterior of component 1 and returns the
// log likelihood under the current parameters.
func (g *GaussianMixture1D) expect(x, resp []float64) float64 {
	c0 := distuv.Normal{Mu: g.Means[0], Sigma: g.Sigmas[0]}
	c1 := distuv.Normal{Mu: g.Means[1], Sigma: g.Sigmas[1]}
	var ll float64
	for i, v := range x {
		p0 := g.Weights[0] * c0.Prob(v)
		p1 := g.Weights[1] * c1.Prob(v)
		sum := p0 + p1
		if sum <= 0 {
			// both densities underflow: side with the nearer mean
			if math.Abs(v-g.Means[1]) < math.Abs(v-g.Means[0]) {
				resp[i] = 1
			} else {
				resp[i] = 0
			}
			continue
		}
		resp[i] = p1 / sum
		ll += math.Log(sum)
	}
	return ll
}

// Posterior returns the posterior probability of component comp for every score.
func (g *GaussianMixture1D) Posterior(x []float64, comp int) []float64 {
	resp := make([]float64, len(x))
	g.expect(x, resp)
	if comp == 0 {
		for i := range resp {
			resp[i] = 1 - resp[i]
		}
	}
	return resp
}
