// Package main is the entry point for quota-relay.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quota-relay",
	Short: "Shared token-bucket quotas for external APIs",
	Long: `quota-relay keeps per-API token buckets in memory or in a shared store
(Redis or Olric), so every process calling the same external API spends
from one quota. It retries transient upstream failures with exponential
backoff and shows or resets bucket state from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/quota-relay/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
