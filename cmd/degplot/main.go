// Package main is the entry point for the degplot analysis.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soma-tiles/degplot/internal/config"
	"github.com/soma-tiles/degplot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var (
		cfg    *config.Config
		logger *zap.Logger
	)

	return &cobra.Command{
		Use:   "degplot",
		Short: "Differential expression of Lesion vs Control with volcano and heatmap plots",
		Long: `degplot reads counts_matrix.csv and sample_metadata.csv from the working
directory, tests every gene for a difference between Lesion and Control samples,
and writes a volcano plot and an expression heatmap.

Settings are read from ` + config.FileName + ` when present.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(config.FileName)
			if err != nil {
				return err
			}

			// Initialize logger
			zc := zap.NewProductionConfig()
			level, err := zap.ParseAtomicLevel(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			zc.Level = level
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := service.NewPipeline(cfg, logger, stdout).Run(cmd.Context())
			return err
		},
	}
}
