package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var incrFlags struct {
	amount int64
}

var incrCmd = &cobra.Command{
	Use:   "incr <resource> <client>",
	Short: "Account usage against a bucket",
	Long: `Increment a client's bucket and report whether the usage was admitted.

An increment above the limit still counts: the command prints the overshoot
and exits with an error.`,
	Args: cobra.ExactArgs(2),
	RunE: runIncr,
}

func init() {
	rootCmd.AddCommand(incrCmd)

	incrCmd.Flags().Int64VarP(&incrFlags.amount, "amount", "n", 1, "units of usage to account")
}

func runIncr(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withLimit(cmd.Context(), args[0], args[1], func(l *limiter.RateLimit) error {
		usage, err := l.Increment(cmd.Context(), incrFlags.amount)
		var exceeded *limiter.LimitExceededError
		if errors.As(err, &exceeded) {
			fmt.Fprintf(out, "%s: rejected, usage %d/%d (over by %d)\n", l.Key(), exceeded.Usage, exceeded.Max, exceeded.Overshoot())
			return err
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: admitted, usage %d/%d\n", l.Key(), usage, l.Limit().MaxRequests)
		return nil
	})
}
