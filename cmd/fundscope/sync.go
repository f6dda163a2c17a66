package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

var (
	syncPages   int
	syncLimit   int
	syncTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull data from external providers",
	Long: `Ingest proposals from the proposal feed or refresh repository and on-chain
signals for stored projects.

Example:
  fundscope sync proposals --pages 5
  fundscope sync proposal 1234
  fundscope sync signals --limit 100`,
}

var syncProposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Walk the proposal feed and upsert funds, projects, people and milestones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(ctx context.Context, a *app) (any, error) {
			if a.ingester == nil {
				return nil, errNoFeed()
			}
			return a.ingester.SyncAll(ctx, syncPages)
		})
	},
}

var syncProposalCmd = &cobra.Command{
	Use:   "proposal <external-id>",
	Short: "Fetch and upsert a single proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(ctx context.Context, a *app) (any, error) {
			if a.ingester == nil {
				return nil, errNoFeed()
			}
			projectID, err := a.ingester.SyncProposal(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]string{"external_id": args[0], "project_id": projectID}, nil
		})
	},
}

var syncSignalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Refresh repository and on-chain signals for stored projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.collector.RefreshAll(ctx, syncLimit)
		})
	},
}

func init() {
	syncCmd.PersistentFlags().DurationVar(&syncTimeout, "timeout", 0, "overall deadline (0 = none)")
	syncProposalsCmd.Flags().IntVar(&syncPages, "pages", 0, "maximum feed pages to walk (0 = all)")
	syncSignalsCmd.Flags().IntVar(&syncLimit, "limit", 0, "maximum number of projects to refresh (0 = all)")

	syncCmd.AddCommand(syncProposalsCmd, syncProposalCmd, syncSignalsCmd)
	rootCmd.AddCommand(syncCmd)
}

func errNoFeed() error {
	return apperrors.NewConfigurationError("proposals.base_url is not set", nil)
}

func runSync(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := runContext(cmd.Context(), syncTimeout)
	defer cancel()

	result, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
