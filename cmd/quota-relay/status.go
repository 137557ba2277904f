package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/omarluq/quota-relay/internal/di"
	"github.com/omarluq/quota-relay/internal/ratelimit"
)

var statusCmd = &cobra.Command{
	Use:   "status [api]",
	Short: "Show bucket state",
	Long: `Show the token balance of every live bucket, or only the buckets of one
API. Balances are projected to the current time; nothing is consumed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
		svc, err := limiterFrom(c)
		if err != nil {
			return err
		}

		var all map[string]map[string]ratelimit.EndpointStatus
		if len(args) == 1 {
			endpoints, err := svc.Limiter.Status(ctx, args[0])
			if err != nil {
				return err
			}
			all = map[string]map[string]ratelimit.EndpointStatus{args[0]: endpoints}
		} else {
			all, err = svc.Limiter.StatusAll(ctx)
			if err != nil {
				return err
			}
		}

		return renderStatus(cmd.OutOrStdout(), all)
	})
}

func renderStatus(out io.Writer, all map[string]map[string]ratelimit.EndpointStatus) error {
	if lo.EveryBy(lo.Values(all), func(m map[string]ratelimit.EndpointStatus) bool { return len(m) == 0 }) {
		_, err := fmt.Fprintln(out, "no live buckets")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"API", "Endpoint", "Tokens", "Max", "Full"})

	apis := lo.Keys(all)
	slices.Sort(apis)
	for _, api := range apis {
		endpoints := lo.Keys(all[api])
		slices.Sort(endpoints)
		for _, endpoint := range endpoints {
			st := all[api][endpoint]
			t.AppendRow(table.Row{
				api,
				endpoint,
				fmt.Sprintf("%.2f", st.Tokens),
				st.MaxTokens,
				fmt.Sprintf("%.1f%%", st.PercentFull),
			})
		}
	}
	t.Render()
	return nil
}
