package cmd

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmrank/pkg/reader/ident"
)

// writePIN writes 100 well separated targets, 100 noise targets and 200 decoys
func writePIN(t *testing.T, dir string) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))

	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\tscore\tdeltCn\tCharge2\tCharge3\tPeptide\tProteins\n")
	row := func(id string, label, scan int, score, delt float64) {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%.6f\t%.6f\t1\t0\tK.PEPTIDE%d.R\tPROT%d\n", id, label, scan, score, delt, scan, scan)
	}
	for i := 0; i < 200; i++ {
		mu := 0.0
		if i < 100 {
			mu = 3
		}
		row(fmt.Sprintf("target_0_%d", i), 1, i+1, mu+rng.NormFloat64(), mu/2+rng.NormFloat64())
	}
	for i := 0; i < 200; i++ {
		row(fmt.Sprintf("decoy_0_%d", i), -1, i+1, rng.NormFloat64(), rng.NormFloat64())
	}

	path := filepath.Join(dir, "search.pin")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	in := writePIN(t, dir)
	out := filepath.Join(dir, "rescored.tsv")
	db := filepath.Join(dir, "runs.db")
	prom := filepath.Join(dir, "psmrank.prom")
	status = io.Discard

	rootCmd.SetArgs([]string{"rescore", "--in", in, "--out", out,
		"--method", "lda", "--max-iters", "2", "--fdr", "0.05", "--quiet",
		"--sqlite", db, "--metrics-out", prom, "--write-qvalues"})
	require.NoError(t, rootCmd.Execute())

	records, err := ident.ReadFile(out, "", nil)
	require.NoError(t, err)
	assert.Len(t, records, 400)
	assert.Equal(t, "PEPTIDE1", records[0].Peptide)

	text, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(text), "psmrank_identified_targets")
	assert.FileExists(t, db)

	rootCmd.SetArgs([]string{"evaluate", out, "--fdr", "0.05", "--quiet"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"summarize", in, "--quiet"})
	require.NoError(t, rootCmd.Execute())
}

func TestRescoreRejectsBadMethod(t *testing.T) {
	dir := t.TempDir()
	in := writePIN(t, dir)
	status = io.Discard

	rootCmd.SetArgs([]string{"rescore", "--in", in, "--out", filepath.Join(dir, "x.tsv"), "--method", "forest", "--quiet"})
	assert.Error(t, rootCmd.Execute())
}

func TestRescoreToStdoutKeepsStatus(t *testing.T) {
	dir := t.TempDir()
	in := writePIN(t, dir)
	status = io.Discard

	assert.Equal(t, os.Stderr, statusWriter("-"))
	assert.Equal(t, io.Discard, statusWriter(filepath.Join(dir, "x.tsv")))

	rootCmd.SetArgs([]string{"rescore", "--in", in, "--out", "-",
		"--method", "lda", "--max-iters", "1", "--quiet", "--sqlite", "", "--metrics-out", ""})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, io.Discard, status)
}
