// Package train runs the semi-supervised, cross-validated rescoring loop.
//
// The rows are split once into three folds. Each fold keeps a score vector
// over its training rows, seeded from a single feature column. In every
// iteration a fold takes the targets its current scores accept at the FDR
// threshold, adds every training decoy, fits a linear discriminant and
// rescores both its training rows (the next iteration's state) and its
// held-out rows. The loop runs a fixed number of iterations. The final
// held-out scores are calibrated per fold and merged into one vector.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psmrank/pkg/classify"
	"github.com/ChrisMcGann/psmrank/pkg/config"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/fold"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
)

// ErrNoFeatures is returned for a dataset without feature columns.
var ErrNoFeatures = errors.New("train: dataset has no feature columns")

// Fewer confident targets than this and a fold trains on all its targets.
const minConfident = 2

// FoldStats describes one fold's training step.
type FoldStats struct {
	Fold            int
	Targets         int // Training-row targets
	Decoys          int // Training-row decoys
	Confident       int // Targets accepted by the current scores
	ConfidentDecoys int // Decoys ranked above the first rejected position
	TrainSize       int
	FellBack        bool // Trained on all targets, too few were confident
	Best            classify.Params
	Validation      int // Targets the chosen model accepts on the training rows
	HeldOut         int // Targets the chosen model accepts on the held-out rows
}

// Iteration summarizes one pass over the three folds.
type Iteration struct {
	Index     int
	Estimated int // Sum of validation counts over the folds, halved
	HeldOut   int
	Folds     [fold.K]FoldStats
	Duration  time.Duration
}

// Observer is notified after every iteration.
type Observer interface {
	ObserveIteration(it Iteration)
}

// Result is the outcome of a training run.
type Result struct {
	Folds      *fold.Assignment
	Directions [fold.K]DirectionCount
	Initial    int // Targets separated by the initial directions, halved
	Iterations []Iteration
	Models     [fold.K]classify.Model
	HeldOut    []float64 // Raw held-out scores of the final models
	PreMerge   int       // Targets accepted per fold on HeldOut, summed
	Scales     [fold.K]Scale
	Scores     []float64 // Final per-row scores
	QValues    []float64 // Final per-row q-values
	Identified int       // Targets with q-value at or below the threshold
}

// Trainer runs the iterative cross-validation loop.
type Trainer struct {
	cfg    config.Config
	logger *slog.Logger
	obs    Observer
}

// New creates a trainer. A nil logger uses slog.Default and obs may be nil.
func New(cfg config.Config, logger *slog.Logger, obs Observer) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, logger: logger, obs: obs}
}

type foldOutput struct {
	train []float64 // Scores of Train(k), aligned with it
	test  []float64 // Scores of Test(k), aligned with it
	model classify.Model
	stats FoldStats
}

// Run trains on ds and returns the final scores. The context is checked
// between iterations only.
func (t *Trainer) Run(ctx context.Context, ds *core.Dataset) (*Result, error) {
	if ds.NumFeatures() == 0 {
		return nil, ErrNoFeatures
	}
	folds, err := fold.New(ds.Len(), t.cfg.Seed)
	if err != nil {
		return nil, err
	}
	res := &Result{Folds: folds}

	var state [fold.K][]float64
	heldOut := make([]float64, ds.Len())
	for k := 0; k < fold.K; k++ {
		train := folds.Train(k)
		var dc DirectionCount
		if t.cfg.InitDirection >= 0 {
			dc, err = FixedDirection(ds, train, t.cfg.InitDirection, t.cfg.Q)
		} else {
			dc, err = SelectDirection(ds, train, t.cfg.Q)
		}
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", k, err)
		}
		t.logger.Info("initial direction",
			"fold", k, "column", dc.Column, "feature", dc.Name, "targets", dc.Targets)

		res.Directions[k] = dc
		res.Initial += dc.Targets
		res.Models[k] = classify.Direction(ds.NumFeatures(), dc.Column)
		state[k] = ds.ColumnAt(dc.Column, train)
		for _, r := range folds.Test(k) {
			heldOut[r] = ds.X[r][dc.Column]
		}
	}
	res.Initial /= 2

	grid := t.cfg.Method.Grid(t.cfg.CPos, t.cfg.CRatios, ds.TargetDecoyRatio())
	for i := 0; i < t.cfg.MaxIters; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stopped before iteration %d: %w", i, err)
		}
		start := time.Now()
		outs, err := t.iterate(ctx, ds, folds, state, grid)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		it := Iteration{Index: i}
		next := make([]float64, ds.Len())
		for k, out := range outs {
			state[k] = out.train
			for j, r := range folds.Test(k) {
				next[r] = out.test[j]
			}
			res.Models[k] = out.model
			it.Folds[k] = out.stats
			it.Estimated += out.stats.Validation
			it.HeldOut += out.stats.HeldOut
		}
		it.Estimated /= 2
		it.Duration = time.Since(start)
		heldOut = next

		res.Iterations = append(res.Iterations, it)
		t.logger.Debug("iteration finished",
			"iter", i, "estimated", it.Estimated, "held_out", it.HeldOut, "q", t.cfg.Q)
		if t.obs != nil {
			t.obs.ObserveIteration(it)
		}
	}

	res.HeldOut = heldOut
	if res.PreMerge, err = heldOutCount(ds, folds, heldOut, t.cfg.Q); err != nil {
		return nil, err
	}

	scores := heldOut
	if t.cfg.MergeScores {
		if scores, res.Scales, err = MergeScores(heldOut, ds.Labels, folds, t.cfg.Q, t.logger); err != nil {
			return nil, err
		}
	}
	if t.cfg.GMM {
		if scores, err = GMMRescore(scores, ds.Labels, t.cfg.Q, t.logger); err != nil {
			return nil, err
		}
	}
	res.Scores = scores

	res.QValues, err = qvalue.QValues(scores, ds.Labels, qvalue.Options{Pi0: t.cfg.Pi0})
	if err != nil {
		return nil, err
	}
	for i, q := range res.QValues {
		if ds.Labels[i] == core.Target && q <= t.cfg.Q {
			res.Identified++
		}
	}
	return res, nil
}

// iterate trains the three folds. Each fold reads only its own state entry
// and writes only its own output slot.
func (t *Trainer) iterate(ctx context.Context, ds *core.Dataset, folds *fold.Assignment, state [fold.K][]float64, grid []classify.Params) ([fold.K]foldOutput, error) {
	var outs [fold.K]foldOutput
	if !t.cfg.Parallel {
		for k := 0; k < fold.K; k++ {
			out, err := t.trainFold(ds, folds, k, state[k], grid)
			if err != nil {
				return outs, err
			}
			outs[k] = out
		}
		return outs, nil
	}

	g, _ := errgroup.WithContext(ctx)
	for k := 0; k < fold.K; k++ {
		g.Go(func() error {
			out, err := t.trainFold(ds, folds, k, state[k], grid)
			if err != nil {
				return err
			}
			outs[k] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outs, err
	}
	return outs, nil
}

func (t *Trainer) trainFold(ds *core.Dataset, folds *fold.Assignment, k int, scores []float64, grid []classify.Params) (foldOutput, error) {
	q := t.cfg.Q
	train := folds.Train(k)
	labels := ds.LabelsAt(train)

	sel, err := qvalue.CalcQ(scores, labels, q, true)
	if err != nil {
		return foldOutput{}, fmt.Errorf("fold %d: %w", k, err)
	}
	st := FoldStats{Fold: k, Confident: len(sel.Targets), ConfidentDecoys: len(sel.Decoys)}
	st.Targets, st.Decoys = core.CountLabels(labels)

	var rows []int
	if len(sel.Targets) < minConfident {
		st.FellBack = true
		t.logger.Warn("too few confident targets, training on all targets",
			"fold", k, "confident", len(sel.Targets), "q", q)
		rows = train
	} else {
		rows = make([]int, 0, len(sel.Targets)+st.Decoys)
		for _, i := range sel.Targets {
			rows = append(rows, train[i])
		}
		for i, r := range train {
			if labels[i] == core.Decoy {
				rows = append(rows, r)
			}
		}
		sort.Ints(rows)
	}
	st.TrainSize = len(rows)
	t.logger.Debug("training set",
		"fold", k, "targets", st.Targets, "decoys", st.Decoys,
		"taq", st.Confident, "daq", st.ConfidentDecoys, "rows", st.TrainSize)

	x, y := ds.Rows(rows)
	vx, _ := ds.Rows(train)
	opts := classify.Options{LDAShrinkage: t.cfg.LDAShrinkage, MaxIter: t.cfg.SolverIters}

	out := foldOutput{}
	bestTP := -1
	for _, p := range grid {
		f, err := classify.New(t.cfg.Method, p, opts)
		if err != nil {
			return foldOutput{}, err
		}
		m, err := f.Fit(x, y)
		if err != nil {
			return foldOutput{}, fmt.Errorf("fold %d (%s, %s): %w", k, t.cfg.Method, p, err)
		}
		vs := m.Score(vx)
		tp, err := qvalue.CountTargets(vs, labels, q, true)
		if err != nil {
			return foldOutput{}, fmt.Errorf("fold %d: %w", k, err)
		}
		if t.cfg.Method.Tuned() {
			t.logger.Debug("grid cell", "fold", k, "cpos", p.CPos, "cneg", p.CNeg, "targets", tp)
		}
		if tp > bestTP {
			bestTP = tp
			out.model = m
			out.train = vs
			st.Best = p
		}
	}
	st.Validation = bestTP

	tx, ty := ds.Rows(folds.Test(k))
	out.test = out.model.Score(tx)
	if st.HeldOut, err = qvalue.CountTargets(out.test, ty, q, false); err != nil {
		return foldOutput{}, fmt.Errorf("fold %d: %w", k, err)
	}
	t.logger.Info("fold finished",
		"fold", k, "validation", st.Validation, "held_out", st.HeldOut,
		"cpos", st.Best.CPos, "cneg", st.Best.CNeg)

	out.stats = st
	return out, nil
}

func heldOutCount(ds *core.Dataset, folds *fold.Assignment, scores []float64, q float64) (int, error) {
	total := 0
	for k := 0; k < fold.K; k++ {
		test := folds.Test(k)
		fs := make([]float64, len(test))
		for i, r := range test {
			fs[i] = scores[r]
		}
		n, err := qvalue.CountTargets(fs, ds.LabelsAt(test), q, false)
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", k, err)
		}
		total += n
	}
	return total, nil
}
