package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omarluq/quota-relay/internal/di"
)

var resetCmd = &cobra.Command{
	Use:   "reset <api> [endpoint]",
	Short: "Refill buckets",
	Long: `Delete the bucket of an API endpoint, or every bucket of the API when no
endpoint is given. The next call starts again from a full bucket.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	api, endpoint := args[0], ""
	if len(args) > 1 {
		endpoint = args[1]
	}

	return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
		svc, err := limiterFrom(c)
		if err != nil {
			return err
		}
		if err := svc.Limiter.Reset(ctx, api, endpoint); err != nil {
			return err
		}

		target := api
		if endpoint != "" {
			target += ":" + endpoint
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", target)
		return err
	})
}
