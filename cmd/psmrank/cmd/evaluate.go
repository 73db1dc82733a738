package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/qvalue"
	"github.com/ChrisMcGann/psmrank/pkg/reader/ident"
)

var (
	// Flags for evaluate command
	evalFDR float64
	evalPi0 float64
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [file]",
	Short: "Count identifications in a scored table",
	Long: `Read a Kind/Sid/Peptide/Score table (an optional Charge column is honored)
and report the number of targets at or below the FDR threshold. With --pi0
below 1 the mix-max estimate is used.

Examples:
  psmrank evaluate rescored.tsv --fdr 0.01
  psmrank evaluate rescored.tsv --fdr 0.05 --pi0 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().Float64Var(&evalFDR, "fdr", 0.01, "FDR threshold")
	evaluateCmd.Flags().Float64Var(&evalPi0, "pi0", 1.0, "Null target proportion")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := baseConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fdr") {
		cfg.Q = evalFDR
	}
	if cmd.Flags().Changed("pi0") {
		cfg.Pi0 = evalPi0
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	records, err := ident.ReadFile(args[0], cfg.Charset, logger)
	if err != nil {
		return err
	}
	scores, labels := ident.Scores(records)
	targets, decoys := core.CountLabels(labels)
	fmt.Printf("Read %d target and %d decoy rows from %s\n", targets, decoys, args[0])

	q, err := qvalue.QValues(scores, labels, qvalue.Options{Pi0: cfg.Pi0})
	if err != nil {
		return err
	}
	identified := 0
	for i, v := range q {
		if labels[i] == core.Target && v <= cfg.Q {
			identified++
		}
	}

	fmt.Printf("Identified: %d targets with q-value <= %g (pi0 %g)\n", identified, cfg.Q, cfg.Pi0)
	return nil
}
