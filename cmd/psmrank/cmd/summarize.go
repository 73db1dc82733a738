package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psmrank/pkg/filter"
	"github.com/ChrisMcGann/psmrank/pkg/reader/pin"
	"github.com/ChrisMcGann/psmrank/pkg/train"
)

var (
	// Flags for summarize command
	summaryFDR            float64
	summaryOneHotCharge   bool
	summaryPeptideProphet bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Summarize a PIN file",
	Long: `Print label counts, the target:decoy ratio and, for every feature column,
the number of targets that column alone separates at the FDR threshold.
The column with the highest count is the one rescore would seed training with.`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().Float64Var(&summaryFDR, "fdr", 0.01, "FDR threshold")
	summarizeCmd.Flags().BoolVar(&summaryOneHotCharge, "one-hot-charge", true, "Keep ChargeN columns as separate features")
	summarizeCmd.Flags().BoolVar(&summaryPeptideProphet, "peptide-prophet", false, "Add the PeptideProphet discriminant as a feature")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	cfg, err := baseConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("fdr") {
		cfg.Q = summaryFDR
	}
	if flags.Changed("one-hot-charge") {
		cfg.OneHotCharge = summaryOneHotCharge
	}
	if flags.Changed("peptide-prophet") {
		cfg.PeptideProphet = summaryPeptideProphet
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ds, err := pin.LoadFile(args[0], pin.Options{
		OneHotCharge: cfg.OneHotCharge,
		Charset:      cfg.Charset,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// Ranking by a single column is unaffected by scaling, only missing cells matter
	filterConfig := &filter.Config{
		Normalization:  filter.NormNone,
		PeptideProphet: cfg.PeptideProphet,
		Logger:         logger,
	}
	if err := filterConfig.Apply(ds); err != nil {
		return fmt.Errorf("failed to prepare features: %w", err)
	}

	targets, decoys := ds.Counts()
	fmt.Printf("File: %s\n", args[0])
	fmt.Printf("PSMs: %d (%d targets, %d decoys)\n", ds.Len(), targets, decoys)
	fmt.Printf("Target:decoy ratio: %.3f\n", ds.TargetDecoyRatio())
	fmt.Printf("Features: %d\n\n", ds.NumFeatures())

	if ds.NumFeatures() == 0 {
		return train.ErrNoFeatures
	}
	rows := make([]int, ds.Len())
	for i := range rows {
		rows[i] = i
	}
	counts, err := train.ScanDirections(ds, rows, cfg.Q)
	if err != nil {
		return err
	}
	best := counts[0]
	for _, c := range counts[1:] {
		if c.Targets > best.Targets {
			best = c
		}
	}

	fmt.Printf("%-5s  %-28s  %s\n", "Col", "Feature", fmt.Sprintf("Targets <= %g", cfg.Q))
	for _, c := range counts {
		mark := ""
		if c.Column == best.Column {
			mark = "  *"
		}
		fmt.Printf("%-5d  %-28s  %d%s\n", c.Column, c.Name, c.Targets, mark)
	}
	return nil
}
