package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarluq/quota-relay/internal/di"
)

var consumeCmd = &cobra.Command{
	Use:   "consume <api> [endpoint]",
	Short: "Spend tokens from a bucket",
	Long: `Spend tokens from the bucket of an API endpoint and print the decision.

With --wait the command sleeps while the bucket refills, up to the given
duration, instead of returning a denial straight away.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConsume,
}

func init() {
	addConsumeFlags(consumeCmd)
	rootCmd.AddCommand(consumeCmd)
}

func addConsumeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("tokens", "n", 1, "number of tokens to spend")
	cmd.Flags().Duration("wait", 0, "wait up to this long for tokens")
}

func runConsume(cmd *cobra.Command, args []string) error {
	tokens, err := cmd.Flags().GetInt("tokens")
	if err != nil {
		return err
	}
	maxWait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return err
	}
	api, endpoint := args[0], ""
	if len(args) > 1 {
		endpoint = args[1]
	}

	return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
		svc, err := limiterFrom(c)
		if err != nil {
			return err
		}
		policy, err := svc.Registry.Resolve(api)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if maxWait > 0 {
			start := time.Now()
			if err := svc.Limiter.Wait(ctx, api, endpoint, tokens, policy, maxWait); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "allowed after %s\n", time.Since(start).Round(time.Millisecond))
			return err
		}

		dec, err := svc.Limiter.Consume(ctx, api, endpoint, tokens, policy)
		if err != nil {
			return err
		}
		if dec.Allowed {
			_, err = fmt.Fprintf(out, "allowed, %.2f tokens remaining\n", dec.Remaining)
			return err
		}
		_, err = fmt.Fprintf(out, "denied, retry after %.2fs (%.2f tokens available)\n",
			dec.WaitSeconds(), dec.Remaining)
		return err
	})
}
