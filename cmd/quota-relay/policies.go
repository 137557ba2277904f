package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/omarluq/quota-relay/internal/di"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the quota policies",
	Long: `List every API policy known to quota-relay: the built-in presets merged
with the overrides from the config file.`,
	Args: cobra.NoArgs,
	RunE: runPolicies,
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

func runPolicies(cmd *cobra.Command, _ []string) error {
	return withContainer(cmd.Context(), func(_ context.Context, c *di.Container) error {
		svc, err := limiterFrom(c)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"API", "Default Endpoint", "Max Tokens", "Refill/s", "Window"})
		for _, p := range svc.Registry.All() {
			t.AppendRow(table.Row{
				p.Name,
				p.DefaultEndpoint,
				p.MaxTokens,
				fmt.Sprintf("%.4g", p.RefillRate),
				p.Window().String(),
			})
		}
		t.Render()
		return nil
	})
}
