package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var usageCmd = &cobra.Command{
	Use:   "usage <resource> <client>",
	Short: "Show a bucket's usage without changing it",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimit(ctx, args[0], args[1], func(l *limiter.RateLimit) error {
		usage, err := l.Usage(ctx)
		if err != nil {
			return err
		}
		reached, err := l.HasBeenReached(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key:     %s\n", l.Key())
		fmt.Fprintf(out, "Usage:   %d/%d\n", usage, l.Limit().MaxRequests)
		fmt.Fprintf(out, "Window:  %s\n", l.Limit().Window)
		fmt.Fprintf(out, "Reached: %t\n", reached)
		return nil
	})
}
