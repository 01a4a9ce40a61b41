package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var waitCmd = &cobra.Command{
	Use:   "wait <resource> <client>",
	Short: "Print the suggested wait before the next request",
	Long: `Print how long the client should wait before its next request.

The value is advisory. For a bucket at its limit it extrapolates the current
usage over the window, so clients that keep calling while rejected are told
to wait longer.`,
	Args: cobra.ExactArgs(2),
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withLimit(ctx, args[0], args[1], func(l *limiter.RateLimit) error {
		wait, err := l.WaitTime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), wait)
		return nil
	})
}
