package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/omarluq/quota-relay/internal/di"
	"github.com/omarluq/quota-relay/internal/retry"
)

var probeCmd = &cobra.Command{
	Use:   "probe <api> <url>",
	Short: "Send a GET request through the limiter",
	Long: `Send a GET request to url, spending quota from the API bucket on every
attempt and retrying transient failures with exponential backoff.`,
	Args: cobra.ExactArgs(2),
	RunE: runProbe,
}

func init() {
	addProbeFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
}

func addProbeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("endpoint", "e", "", "bucket endpoint (default: the policy default)")
	cmd.Flags().Int("retries", -1, "retry budget (default: retry.max_retries from config)")
	cmd.Flags().Bool("no-cache", false, "bypass the response cache")
}

func runProbe(cmd *cobra.Command, args []string) error {
	endpoint, err := cmd.Flags().GetString("endpoint")
	if err != nil {
		return err
	}
	retries, err := cmd.Flags().GetInt("retries")
	if err != nil {
		return err
	}
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return err
	}

	var opts []retry.Option
	if retries >= 0 {
		opts = append(opts, retry.WithMaxRetries(retries))
	}
	if noCache {
		opts = append(opts, retry.WithoutCache())
	}

	return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
		svc, err := di.Invoke[*di.RetryService](c)
		if err != nil {
			return fmt.Errorf("failed to initialize retry controller: %w", err)
		}
		out := cmd.OutOrStdout()

		resp, err := svc.Controller.Get(ctx, args[0], endpoint, args[1], opts...)
		if err != nil {
			fmt.Fprintf(out, "✗ %s\n", retry.Describe(err))
			return err
		}

		source := "upstream"
		if resp.Cached {
			source = "cache"
		}
		_, err = fmt.Fprintf(out, "✓ %d %s, %d bytes from %s, %d attempt(s), waited %s\n",
			resp.Status, http.StatusText(resp.Status), len(resp.Body), source,
			len(resp.Attempts), resp.TotalWait)
		return err
	})
}
