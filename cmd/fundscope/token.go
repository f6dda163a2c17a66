package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/fundscope/internal/api"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token signed with auth.jwt_secret",
	Long: `Issue a bearer token for the API. The subject is recorded as the actor of
disputes and resolutions.

Example:
  fundscope token alice
  fundscope token moderator-1 --role reviewer --ttl 72h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := api.NewAuthenticator(cfg.Auth.JWTSecret, clock.System())
		tok, err := auth.IssueToken(args[0], tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", api.RoleMember, "role claim (member, reviewer, admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
