package train

import (
	"fmt"
	"log/slog"

	"github.com/ChrisMcGann/psmrank/pkg/classify"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
)

const (
	gmmMaxIter = 500
	gmmTol     = 1e-8
)

// GMMRescore fits a two-component Gaussian mixture to the scores and
// returns the posterior of the component under which more targets are
// accepted at thresh. Ties go to the second component.
func GMMRescore(scores []float64, labels []core.Label, thresh float64, logger *slog.Logger) ([]float64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g, err := classify.FitGaussianMixture1D(scores, gmmMaxIter, gmmTol)
	if err != nil {
		return nil, fmt.Errorf("failed to fit score mixture: %w", err)
	}

	var post [2][]float64
	var counts [2]int
	for c := 0; c < 2; c++ {
		post[c] = g.Posterior(scores, c)
		if counts[c], err = qvalue.CountTargets(post[c], labels, thresh, false); err != nil {
			return nil, err
		}
	}

	chosen := 1
	if counts[0] > counts[1] {
		chosen = 0
	}
	logger.Info("mixture rescoring",
		"component", chosen, "targets", counts[chosen], "means", g.Means, "iterations", g.Iter)
	return post[chosen], nil
}
