package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psmrank/pkg/config"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/filter"
	"github.com/ChrisMcGann/psmrank/pkg/metrics"
	"github.com/ChrisMcGann/psmrank/pkg/reader/pin"
	"github.com/ChrisMcGann/psmrank/pkg/train"
	"github.com/ChrisMcGann/psmrank/pkg/writer/sqlite"
	"github.com/ChrisMcGann/psmrank/pkg/writer/tsv"
)

var (
	// Flags for rescore command
	inputFile      string
	outputFile     string
	sqliteFile     string
	metricsFile    string
	fdr            float64
	initDirection  int
	maxIters       int
	method         string
	seed           int64
	pi0            float64
	parallel       bool
	mergeScores    bool
	gmm            bool
	normalization  string
	oneHotCharge   bool
	peptideProphet bool
	writeCharge    bool
	writeQValues   bool
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Rescore the PSMs of a PIN file",
	Long: `Train a cross-validated linear discriminant on a PIN file and write one
calibrated score per retained PSM as a Kind/Sid/Peptide/Score table.

Examples:
  # Rescore with default settings
  psmrank rescore --in search.pin --out rescored.tsv

  # LDA backend, 5 iterations, seeded from the first feature column
  psmrank rescore --in search.pin --out rescored.tsv --method lda --max-iters 5 --init-direction 0

  # Record the run in a result database and export metrics
  psmrank rescore --in search.pin --out rescored.tsv --sqlite runs.db --metrics-out psmrank.prom`,
	RunE: runRescore,
}

func init() {
	def := config.Default()

	rescoreCmd.Flags().StringVarP(&inputFile, "in", "i", "", "Input PIN file (required)")
	rescoreCmd.Flags().StringVarP(&outputFile, "out", "o", "-", "Output table, - for stdout")
	rescoreCmd.Flags().StringVar(&sqliteFile, "sqlite", "", "Also record the run in this SQLite database")
	rescoreCmd.Flags().StringVar(&metricsFile, "metrics-out", "", "Write run metrics to this prometheus textfile")
	rescoreCmd.Flags().Float64Var(&fdr, "fdr", def.Q, "FDR threshold for training and reporting")
	rescoreCmd.Flags().IntVar(&initDirection, "init-direction", def.InitDirection, "Feature column to seed training with (-1 = search)")
	rescoreCmd.Flags().IntVar(&maxIters, "max-iters", def.MaxIters, "Number of training iterations")
	rescoreCmd.Flags().StringVarP(&method, "method", "m", string(def.Method), "Classifier: lda, svm or svmlin")
	rescoreCmd.Flags().Int64Var(&seed, "seed", def.Seed, "Fold shuffle seed (<= 0 = random)")
	rescoreCmd.Flags().Float64Var(&pi0, "pi0", def.Pi0, "Null target proportion for the final q-values")
	rescoreCmd.Flags().BoolVar(&parallel, "parallel", def.Parallel, "Train the three folds concurrently")
	rescoreCmd.Flags().BoolVar(&mergeScores, "merge-scores", def.MergeScores, "Calibrate fold scores before merging")
	rescoreCmd.Flags().BoolVar(&gmm, "gmm", def.GMM, "Replace final scores with a Gaussian mixture posterior")
	rescoreCmd.Flags().StringVar(&normalization, "normalization", string(def.Normalization), "Feature scaling: standard, minmax or none")
	rescoreCmd.Flags().BoolVar(&oneHotCharge, "one-hot-charge", def.OneHotCharge, "Keep ChargeN columns as separate features")
	rescoreCmd.Flags().BoolVar(&peptideProphet, "peptide-prophet", def.PeptideProphet, "Add the PeptideProphet discriminant as a feature")
	rescoreCmd.Flags().BoolVar(&writeCharge, "write-charge", false, "Add a Charge column to the output table")
	rescoreCmd.Flags().BoolVar(&writeQValues, "write-qvalues", false, "Add a QValue column to the output table")

	rescoreCmd.MarkFlagRequired("in")
}

// rescoreConfig applies explicitly set flags on top of the base configuration
func rescoreConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := baseConfig(cmd)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("fdr") {
		cfg.Q = fdr
	}
	if flags.Changed("init-direction") {
		cfg.InitDirection = initDirection
	}
	if flags.Changed("max-iters") {
		cfg.MaxIters = maxIters
	}
	if flags.Changed("method") {
		if cfg, err = cfg.WithMethod(method); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("pi0") {
		cfg.Pi0 = pi0
	}
	if flags.Changed("parallel") {
		cfg.Parallel = parallel
	}
	if flags.Changed("merge-scores") {
		cfg.MergeScores = mergeScores
	}
	if flags.Changed("gmm") {
		cfg.GMM = gmm
	}
	if flags.Changed("normalization") {
		if cfg, err = cfg.WithNormalization(normalization); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("one-hot-charge") {
		cfg.OneHotCharge = oneHotCharge
	}
	if flags.Changed("peptide-prophet") {
		cfg.PeptideProphet = peptideProphet
	}

	return cfg, cfg.Validate()
}

// progress prints one line per iteration and forwards it to the run metrics
type progress struct {
	out     io.Writer
	q       float64
	metrics *metrics.Run
	db      *sqlite.Writer
	err     error
}

func (p *progress) ObserveIteration(it train.Iteration) {
	fmt.Fprintf(p.out, "Iteration %d:\tEstimated %d targets <= %g (held out %d, %s)\n",
		it.Index+1, it.Estimated, p.q, it.HeldOut, it.Duration.Round(time.Millisecond))
	p.metrics.ObserveIteration(it)
	if p.db != nil && p.err == nil {
		p.err = p.db.WriteIteration(it)
	}
}

func runRescore(cmd *cobra.Command, args []string) error {
	cfg, err := rescoreConfig(cmd)
	if err != nil {
		return err
	}
	out := statusWriter(outputFile)

	// Load and prepare features
	ds, err := pin.LoadFile(inputFile, pin.Options{
		OneHotCharge: cfg.OneHotCharge,
		Charset:      cfg.Charset,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	targets, decoys := ds.Counts()
	fmt.Fprintf(out, "Loaded %d target and %d decoy PSMs with %d features from %s\n",
		targets, decoys, ds.NumFeatures(), inputFile)

	filterConfig := &filter.Config{
		Normalization:  cfg.Normalization,
		PeptideProphet: cfg.PeptideProphet,
		Logger:         logger,
	}
	if err := filterConfig.Apply(ds); err != nil {
		return fmt.Errorf("failed to prepare features: %w", err)
	}

	run := metrics.NewRun()
	run.ObserveDataset(targets, decoys, ds.NumFeatures())
	obs := &progress{out: out, q: cfg.Q, metrics: run}

	// Optional result database
	if sqliteFile != "" {
		if obs.db, err = sqlite.NewWriter(sqliteFile, inputFile, cfg); err != nil {
			return fmt.Errorf("failed to create result database: %w", err)
		}
		defer obs.db.Close()
	}

	fmt.Fprintf(out, "Training with %s, %d iterations, FDR %g\n", cfg.Method, cfg.MaxIters, cfg.Q)
	res, err := train.New(cfg, logger, obs).Run(cmd.Context(), ds)
	if err != nil {
		return err
	}
	if obs.err != nil {
		return obs.err
	}
	run.ObserveResult(res)

	for k, dc := range res.Directions {
		logger.Debug("initial direction", "fold", k, "feature", dc.Name, "targets", dc.Targets)
	}
	fmt.Fprintf(out, "Initial direction separates %d targets\n", res.Initial)
	fmt.Fprintf(out, "Held-out folds identify %d targets before merging\n", res.PreMerge)

	if err := writeScores(ds, res, cfg); err != nil {
		return err
	}

	if obs.db != nil {
		if err := obs.db.WritePSMs(ds, res); err != nil {
			return err
		}
		if err := obs.db.Finalize(ds, res); err != nil {
			return fmt.Errorf("failed to finalize result database: %w", err)
		}
		fmt.Fprintf(out, "Run %s recorded in %s\n", obs.db.RunID(), sqliteFile)
	}
	if metricsFile != "" {
		if err := run.WriteTextfile(metricsFile); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nRescoring complete!\n")
	fmt.Fprintf(out, "Identified: %d targets with q-value <= %g\n", res.Identified, cfg.Q)
	if outputFile != "-" {
		fmt.Fprintf(out, "Output: %s\n", outputFile)
	}
	return nil
}

// statusWriter returns where progress lines go for a run writing to outputPath
func statusWriter(outputPath string) io.Writer {
	if outputPath == "-" {
		return os.Stderr
	}
	return status
}

func writeScores(ds *core.Dataset, res *train.Result, cfg config.Config) error {
	w, err := tsv.Create(outputFile, tsv.Options{Charge: writeCharge, QValue: writeQValues})
	if err != nil {
		return err
	}
	if err := w.WriteDataset(ds, res.Scores, res.QValues); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	logger.Debug("wrote scores", "rows", w.Rows(), "path", outputFile, "q", cfg.Q)
	return nil
}
