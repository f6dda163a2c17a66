package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	recalcLimit   int
	recalcTimeout time.Duration
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Run a recalculation sweep",
	Long: `Recalculate derived scores in batch.

Example:
  fundscope recalc roi --limit 500
  fundscope recalc percentiles
  fundscope recalc accountability
  fundscope recalc rollups`,
}

func init() {
	recalcCmd.PersistentFlags().IntVar(&recalcLimit, "limit", 0, "maximum number of entities to process (0 = all)")
	recalcCmd.PersistentFlags().DurationVar(&recalcTimeout, "timeout", 0, "overall deadline for the sweep (0 = none)")

	recalcCmd.AddCommand(
		batchCommand("roi", "Append a fresh ROI record for every project", func(ctx context.Context, a *app) (any, error) {
			return a.roi.RecalculateAllROI(ctx, recalcLimit)
		}),
		batchCommand("percentiles", "Rank the latest ROI records within each category", func(ctx context.Context, a *app) (any, error) {
			return a.roi.CalculateCategoryPercentiles(ctx)
		}),
		batchCommand("accountability", "Rescore every person", func(ctx context.Context, a *app) (any, error) {
			return a.accountability.RecalculateAll(ctx, recalcLimit)
		}),
		batchCommand("rollups", "Recompute fund and person aggregates", func(ctx context.Context, a *app) (any, error) {
			return a.rollups.Run(ctx, recalcLimit)
		}),
	)
	rootCmd.AddCommand(recalcCmd)
}

// batchCommand wraps a sweep: build the app, run fn under the sweep
// deadline and print its summary.
func batchCommand(use, short string, fn func(ctx context.Context, a *app) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := runContext(cmd.Context(), recalcTimeout)
			defer cancel()

			start := time.Now()
			result, err := fn(ctx, a)
			if err != nil {
				return err
			}
			a.logger.Info("Sweep finished", "command", cmd.CommandPath(), "duration_ms", time.Since(start).Milliseconds())
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
