package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmrank/pkg/classify"
	"github.com/ChrisMcGann/psmrank/pkg/config"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/fold"
	"github.com/ChrisMcGann/psmrank/pkg/train"
)

func testDataset() *core.Dataset {
	return &core.Dataset{
		FeatureNames: []string{"f"},
		X:            [][]float64{{1}, {2}, {3}},
		Labels:       []core.Label{core.Target, core.Decoy, core.Target},
		Keys:         []core.Key{{Scan: 1, Charge: 2}, {Scan: 2, Charge: 2}, {Scan: 3, Charge: 3}},
		IDs:          []string{"t_1", "d_2", "t_3"},
		Scores:       []float64{1.5, 0.5, 2.5},
		Peptides:     []string{"K.AAA.R", "K.CCC.R", "DDD"},
		Proteins:     []string{"P1", "P2", "P3"},
	}
}

func testResult() *train.Result {
	it := train.Iteration{Index: 0, Estimated: 4, HeldOut: 2, Duration: 1500 * time.Millisecond}
	for k := range it.Folds {
		it.Folds[k] = train.FoldStats{Fold: k, Targets: 2, Decoys: 1, Best: classify.Params{CPos: 1, CNeg: 3}}
	}
	return &train.Result{
		Iterations: []train.Iteration{it},
		Initial:    1,
		PreMerge:   2,
		Scores:     []float64{0.5, -1, 1.25},
		QValues:    []float64{0.5, 1, 0},
		Identified: 1,
	}
}

func TestWriteRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ds, res := testDataset(), testResult()

	w, err := NewWriter(path, "input.pin", config.Default())
	require.NoError(t, err)
	require.NotEmpty(t, w.RunID())
	for _, it := range res.Iterations {
		require.NoError(t, w.WriteIteration(it))
	}
	require.NoError(t, w.WritePSMs(ds, res))
	require.NoError(t, w.Finalize(ds, res))
	require.NoError(t, w.Close(), "second close is a no-op")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var method, cfg string
	var targets, decoys, identified int
	err = db.QueryRow(`SELECT Method, Config, Targets, Decoys, IdentifiedTargets FROM RunTable WHERE RunId = ?`, w.RunID()).
		Scan(&method, &cfg, &targets, &decoys, &identified)
	require.NoError(t, err)
	assert.Equal(t, "svmlin", method)
	assert.Contains(t, cfg, "max_iters: 10")
	assert.Equal(t, 2, targets)
	assert.Equal(t, 1, decoys)
	assert.Equal(t, 1, identified)

	var folds int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM FoldTable WHERE RunId = ?`, w.RunID()).Scan(&folds))
	assert.Equal(t, 3, folds)

	var seconds float64
	require.NoError(t, db.QueryRow(`SELECT Seconds FROM IterationTable WHERE RunId = ?`, w.RunID()).Scan(&seconds))
	assert.Equal(t, 1.5, seconds)

	rows, err := db.Query(`SELECT Kind, Peptide, Score, QValue FROM PsmTable WHERE RunId = ? ORDER BY RowIndex`, w.RunID())
	require.NoError(t, err)
	defer rows.Close()
	var kinds, peptides []string
	var scores []float64
	for rows.Next() {
		var kind, pep string
		var score, q float64
		require.NoError(t, rows.Scan(&kind, &pep, &score, &q))
		kinds = append(kinds, kind)
		peptides = append(peptides, pep)
		scores = append(scores, score)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"t", "d", "t"}, kinds)
	assert.Equal(t, []string{"AAA", "CCC", "DDD"}, peptides)
	assert.Equal(t, res.Scores, scores)
}

func TestTwoRunsShareDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	first, err := NewWriter(path, "a.pin", config.Default())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewWriter(path, "b.pin", config.Default())
	require.NoError(t, err)
	require.NoError(t, second.Close())
	assert.NotEqual(t, first.RunID(), second.RunID())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM RunTable`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	w, err := NewWriter(path, "a.pin", config.Default())
	require.NoError(t, err)
	defer w.Close()

	_, err = NewWriter(path, "b.pin", config.Default())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWritePSMsLengthMismatch(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "runs.db"), "a.pin", config.Default())
	require.NoError(t, err)
	defer w.Close()

	res := testResult()
	res.Scores = res.Scores[:1]
	assert.Error(t, w.WritePSMs(testDataset(), res))
}

func TestWritePSMsFolds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ds := testDataset()
	folds, err := fold.New(ds.Len(), 5)
	require.NoError(t, err)

	tests := []struct {
		name  string
		folds *fold.Assignment
		want  []sql.NullInt64
	}{
		{"unassigned", nil, []sql.NullInt64{{}, {}, {}}},
		{"assigned", folds, []sql.NullInt64{
			{Int64: int64(folds.Of()[0]), Valid: true},
			{Int64: int64(folds.Of()[1]), Valid: true},
			{Int64: int64(folds.Of()[2]), Valid: true},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testResult()
			res.Folds = tt.folds

			w, err := NewWriter(path, "a.pin", config.Default())
			require.NoError(t, err)
			require.NoError(t, w.WritePSMs(ds, res))
			require.NoError(t, w.Close())

			db, err := sql.Open("sqlite3", path)
			require.NoError(t, err)
			defer db.Close()

			rows, err := db.Query(`SELECT Fold FROM PsmTable WHERE RunId = ? ORDER BY RowIndex`, w.RunID())
			require.NoError(t, err)
			defer rows.Close()
			var got []sql.NullInt64
			for rows.Next() {
				var f sql.NullInt64
				require.NoError(t, rows.Scan(&f))
				got = append(got, f)
			}
			require.NoError(t, rows.Err())
			assert.Equal(t, tt.want, got)
		})
	}
}
