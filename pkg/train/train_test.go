package train

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmrank/pkg/classify"
	"github.com/ChrisMcGann/psmrank/pkg/config"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/fold"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// synthetic alternates targets and decoys. Every other target is shifted by
// shift in every feature, the rest look like decoys.
func synthetic(n, p int, shift float64, seed uint64) *core.Dataset {
	r := rand.New(rand.NewPCG(seed, seed*7+1))
	ds := &core.Dataset{}
	for j := 0; j < p; j++ {
		ds.FeatureNames = append(ds.FeatureNames, fmt.Sprintf("f%d", j))
	}
	for i := 0; i < n; i++ {
		label := core.Target
		if i%2 == 1 {
			label = core.Decoy
		}
		row := make([]float64, p)
		for j := range row {
			row[j] = r.NormFloat64()
			if i%4 == 0 {
				row[j] += shift
			}
		}
		ds.X = append(ds.X, row)
		ds.Labels = append(ds.Labels, label)
		ds.Keys = append(ds.Keys, core.Key{Scan: i + 1, Charge: 2})
		ds.IDs = append(ds.IDs, fmt.Sprintf("psm_%d_1", i))
		ds.Scores = append(ds.Scores, row[0])
		ds.Peptides = append(ds.Peptides, "K.PEPTIDE.R")
		ds.Proteins = append(ds.Proteins, "P1")
	}
	return ds
}

func testConfig(m classify.Method) config.Config {
	cfg := config.Default()
	cfg.Q = 0.05
	cfg.Method = m
	cfg.MaxIters = 3
	cfg.Seed = 5
	return cfg
}

type recorder struct {
	iters []Iteration
}

func (r *recorder) ObserveIteration(it Iteration) {
	r.iters = append(r.iters, it)
}

func TestSelectDirectionPerfectColumn(t *testing.T) {
	ds := &core.Dataset{FeatureNames: []string{"noise", "perfect"}}
	var rows []int
	for i := 0; i < 10; i++ {
		ds.X = append(ds.X, []float64{float64(-i), float64(100 + i)})
		ds.Labels = append(ds.Labels, core.Target)
		ds.X = append(ds.X, []float64{float64(i), float64(i)})
		ds.Labels = append(ds.Labels, core.Decoy)
	}
	for i := range ds.X {
		rows = append(rows, i)
	}

	best, err := SelectDirection(ds, rows, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, best.Column)
	assert.Equal(t, "perfect", best.Name)
	assert.Equal(t, 10, best.Targets)

	res, err := qvalue.CalcQ(ds.Column(best.Column), ds.Labels, 0.01, true)
	require.NoError(t, err)
	assert.Len(t, res.Targets, 10)
	assert.Empty(t, res.Decoys)
}

func TestSelectDirectionTiesGoFirst(t *testing.T) {
	ds := &core.Dataset{
		FeatureNames: []string{"a", "b"},
		X:            [][]float64{{2, 2}, {1, 1}},
		Labels:       []core.Label{core.Target, core.Decoy},
	}
	best, err := SelectDirection(ds, []int{0, 1}, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 0, best.Column)
}

func TestFixedDirectionOutOfRange(t *testing.T) {
	ds := synthetic(30, 2, 2, 1)
	_, err := FixedDirection(ds, []int{0, 1, 2}, 5, 0.01)
	assert.Error(t, err)
}

func TestFoldScaleDegenerate(t *testing.T) {
	s, err := FoldScale([]float64{1, 1}, []core.Label{core.Target, core.Decoy}, 0.01)
	require.NoError(t, err)
	assert.True(t, s.Fallback)
	assert.Equal(t, 1.0, s.Denom)
	assert.Equal(t, 0.0, s.Apply(1))
}

func TestFoldScale(t *testing.T) {
	scores := []float64{10, 9, 8, 3, 2, 1}
	labels := []core.Label{core.Target, core.Target, core.Target, core.Decoy, core.Decoy, core.Decoy}
	s, err := FoldScale(scores, labels, 0.5)
	require.NoError(t, err)
	// u = 8, d = 2
	assert.False(t, s.Fallback)
	assert.Equal(t, 0.0, s.Apply(8))
	assert.Equal(t, -1.0, s.Apply(2))
}

func TestMergeScoresNoDecoyFold(t *testing.T) {
	folds, err := fold.New(6, 1)
	require.NoError(t, err)
	scores := []float64{6, 5, 4, 3, 2, 1}
	labels := make([]core.Label, 6)
	for i := range labels {
		labels[i] = core.Target
	}

	merged, scales, err := MergeScores(scores, labels, folds, 0.01, quietLogger())
	require.NoError(t, err)
	require.Len(t, merged, 6)
	for k := 0; k < fold.K; k++ {
		assert.True(t, scales[k].NoDecoys)
		assert.True(t, scales[k].Fallback)
	}
}

func TestMergeScoresLengthMismatch(t *testing.T) {
	folds, err := fold.New(6, 1)
	require.NoError(t, err)
	_, _, err = MergeScores([]float64{1, 2}, nil, folds, 0.01, nil)
	assert.ErrorIs(t, err, qvalue.ErrLengthMismatch)
}

func TestTrainerRun(t *testing.T) {
	for _, m := range []classify.Method{classify.MethodLDA, classify.MethodSVM, classify.MethodSVMLin} {
		t.Run(string(m), func(t *testing.T) {
			ds := synthetic(300, 3, 3, 42)
			rec := &recorder{}
			res, err := New(testConfig(m), quietLogger(), rec).Run(context.Background(), ds)
			require.NoError(t, err)

			assert.Len(t, res.Scores, ds.Len())
			assert.Len(t, res.QValues, ds.Len())
			assert.Len(t, res.Iterations, 3)
			assert.Len(t, rec.iters, 3)
			assert.Greater(t, res.Identified, 40)
			assert.Greater(t, res.PreMerge, 0)
			for _, it := range res.Iterations {
				for _, fs := range it.Folds {
					assert.False(t, fs.FellBack)
					assert.Equal(t, fs.Confident+fs.Decoys, fs.TrainSize)
				}
			}
			for k := 0; k < fold.K; k++ {
				assert.NotNil(t, res.Models[k])
			}
		})
	}
}

func TestTrainerDeterministic(t *testing.T) {
	cfg := testConfig(classify.MethodSVMLin)
	a, err := New(cfg, quietLogger(), nil).Run(context.Background(), synthetic(240, 3, 3, 9))
	require.NoError(t, err)
	b, err := New(cfg, quietLogger(), nil).Run(context.Background(), synthetic(240, 3, 3, 9))
	require.NoError(t, err)

	assert.Equal(t, a.Folds.Of(), b.Folds.Of())
	for i := range a.Iterations {
		assert.Equal(t, a.Iterations[i].Estimated, b.Iterations[i].Estimated)
		assert.Equal(t, a.Iterations[i].HeldOut, b.Iterations[i].HeldOut)
	}
	assert.Equal(t, a.Scores, b.Scores)
}

func TestTrainerParallelMatchesSequential(t *testing.T) {
	cfg := testConfig(classify.MethodLDA)
	seq, err := New(cfg, quietLogger(), nil).Run(context.Background(), synthetic(240, 4, 3, 3))
	require.NoError(t, err)

	cfg.Parallel = true
	par, err := New(cfg, quietLogger(), nil).Run(context.Background(), synthetic(240, 4, 3, 3))
	require.NoError(t, err)

	assert.Equal(t, seq.Scores, par.Scores)
	assert.Equal(t, seq.Identified, par.Identified)
}

func TestTrainerFixedDirection(t *testing.T) {
	cfg := testConfig(classify.MethodLDA)
	cfg.InitDirection = 2
	cfg.MaxIters = 0
	ds := synthetic(120, 3, 3, 4)

	res, err := New(cfg, quietLogger(), nil).Run(context.Background(), ds)
	require.NoError(t, err)
	for k := 0; k < fold.K; k++ {
		assert.Equal(t, 2, res.Directions[k].Column)
	}
	// without iterations the held-out scores are the column itself
	assert.Equal(t, ds.Column(2), res.HeldOut)
	assert.Empty(t, res.Iterations)
}

func TestTrainerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(classify.MethodLDA), quietLogger(), nil).Run(ctx, synthetic(60, 2, 3, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainerNoFeatures(t *testing.T) {
	ds := &core.Dataset{Labels: []core.Label{core.Target, core.Decoy, core.Target}}
	_, err := New(testConfig(classify.MethodLDA), nil, nil).Run(context.Background(), ds)
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestTrainerFallsBackWithoutConfidentTargets(t *testing.T) {
	// pure noise: nothing is accepted at a strict threshold
	cfg := testConfig(classify.MethodLDA)
	cfg.Q = 0.001
	cfg.MaxIters = 1
	res, err := New(cfg, quietLogger(), nil).Run(context.Background(), synthetic(90, 2, 0, 8))
	require.NoError(t, err)
	for _, fs := range res.Iterations[0].Folds {
		if fs.FellBack {
			assert.Equal(t, fs.Targets+fs.Decoys, fs.TrainSize)
		}
	}
}

func TestGMMRescore(t *testing.T) {
	r := rand.New(rand.NewPCG(2, 3))
	var scores []float64
	var labels []core.Label
	for i := 0; i < 200; i++ {
		scores = append(scores, r.NormFloat64()+5, r.NormFloat64()-5, r.NormFloat64()-5)
		labels = append(labels, core.Target, core.Target, core.Decoy)
	}

	post, err := GMMRescore(scores, labels, 0.05, quietLogger())
	require.NoError(t, err)
	require.Len(t, post, len(scores))
	assert.Greater(t, post[0], 0.99)
	assert.Less(t, post[2], 0.01)
}
