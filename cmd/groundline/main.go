// Package main is the groundline CLI.
//
// Start the service:
//
//	groundline serve
//
// Repair chunk-store/vector-index drift once:
//
//	groundline reconcile
//
// Replay an evaluation test set through the live pipeline:
//
//	groundline evaluate --testset cases.yaml
//
// Configuration comes from the environment (see internal/config for the
// full variable list), optionally overlaid on a YAML file via --config.
// A .env file in the working directory is loaded first when present.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/groundline/groundline/internal/config"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/rag/eval"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "groundline",
		Short:         "Grounded retrieval-augmented answering service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file overlaid on the environment")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newReconcileCmd(&configPath),
		newEvaluateCmd(&configPath),
		newVersionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv(), nil
	}
	return config.LoadFile(path)
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

func newServeCmd(configPath *string) *cobra.Command {
	var reconcileCron string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if reconcileCron != "" {
				scheduler, err := a.reconciler.Schedule(reconcileCron, cfg.Server.IngestDeadline)
				if err != nil {
					return fmt.Errorf("schedule reconciler: %w", err)
				}
				defer scheduler.Stop()
				log.Info(ctx, "reconciler scheduled", "cron", reconcileCron)
			}

			log.Info(ctx, "starting groundline", "version", version, "commit", commit)
			return a.serverFactory().Run(ctx)
		},
	}
	cmd.Flags().StringVar(&reconcileCron, "reconcile-cron", "@every 15m", "cron schedule for orphan reconciliation, empty to disable")
	return cmd
}

func newReconcileCmd(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair chunk-store/vector-index drift once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			report, err := a.reconciler.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reindexed chunks: %d\n", report.Reindexed)
			fmt.Fprintf(out, "Orphan vectors removed: %d\n", report.OrphanVectors)
			if report.Failures > 0 {
				return fmt.Errorf("%d refs failed to reconcile", report.Failures)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "wall-clock limit for the run")
	return cmd
}

func newEvaluateCmd(configPath *string) *cobra.Command {
	var (
		testSetPath string
		output      string
		threshold   float64
		topK        int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Replay a YAML test set through the live pipeline and score the answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			set, err := eval.LoadTestSet(testSetPath)
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			evaluator := eval.New(a.queryOrch, a.chunks, eval.Config{
				TopK:          topK,
				PassThreshold: threshold,
			}, log)
			report, err := evaluator.Run(cmd.Context(), set)
			if err != nil {
				return err
			}

			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				defer f.Close()
				if err := report.WriteJSON(f); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Test set: %s\n", report.TestSetName)
			fmt.Fprintf(out, "Cases: %d passed %d failed %d errored %d\n",
				report.Summary.Total, report.Summary.Passed, report.Summary.Failed, report.Summary.Errors)
			fmt.Fprintf(out, "Composite: %.3f\n", report.Summary.MeanComposite)
			fmt.Fprintf(out, "Faithfulness: %.3f Correctness: %.3f\n",
				report.Summary.MeanFaithfulness, report.Summary.MeanCorrectness)
			fmt.Fprintf(out, "Precision: %.3f Recall: %.3f MRR: %.3f NDCG: %.3f\n",
				report.Summary.MeanPrecision, report.Summary.MeanRecall,
				report.Summary.MeanMRR, report.Summary.MeanNDCG)
			if !report.Gate() {
				return fmt.Errorf("quality gate failed: pass rate %.2f below 1.00", report.Summary.PassRate)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&testSetPath, "testset", "", "path to the YAML test set (required)")
	cmd.Flags().StringVar(&output, "output", "", "write the full JSON report here")
	cmd.Flags().Float64Var(&threshold, "threshold", eval.DefaultPassThreshold, "composite score a case must reach to pass")
	cmd.Flags().IntVar(&topK, "top-k", 0, "retrieval width override for evaluation queries")
	_ = cmd.MarkFlagRequired("testset")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "groundline %s (%s)\n", version, commit)
		},
	}
}
