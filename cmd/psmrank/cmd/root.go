// Package cmd provides CLI command implementations
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psmrank/pkg/config"
)

var (
	// Persistent flags
	configFile   string
	verbose      bool
	quiet        bool
	inputCharset string

	logger = slog.Default()

	// Human progress lines; stderr when results go to stdout
	status io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "psmrank",
	Short: "psmrank - Semi-supervised PSM rescoring tool",
	Long: `psmrank re-ranks peptide-spectrum matches from a search engine's PIN
output using target-decoy competition and a cross-validated linear
discriminant trained on the confidently identified PSMs.

Commands:
- rescore:   train on a PIN file and write calibrated scores
- evaluate:  count identifications in a scored Kind/Sid/Peptide/Score table
- summarize: report label counts and per-feature identifications of a PIN file`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return fmt.Errorf("--verbose and --quiet are mutually exclusive")
		}
		level := slog.LevelInfo
		switch {
		case verbose:
			level = slog.LevelDebug
		case quiet:
			level = slog.LevelWarn
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM stop training after
// the current iteration.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(rescoreCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(summarizeCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (flags override its values)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log per-fold training details")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Log warnings and errors only")
	rootCmd.PersistentFlags().StringVar(&inputCharset, "charset", "", "Input file encoding, e.g. latin1 (default UTF-8)")
}

// baseConfig returns the defaults, overlaid with --config when given
func baseConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("charset") {
		cfg.Charset = inputCharset
	}
	return cfg, nil
}
