package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var driveFlags struct {
	rps   float64
	count int
}

var driveCmd = &cobra.Command{
	Use:   "drive <resource> <client>",
	Short: "Send paced increments and count rejections",
	Long: `Increment a bucket count times at a steady rate and report how many
increments were admitted and rejected.

Examples:
  # 10 per second against a limit of 5 per second rejects about half
  ratelimit drive search user_123 --rps 10 --count 40 --max-requests 5`,
	Args: cobra.ExactArgs(2),
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)

	driveCmd.Flags().Float64Var(&driveFlags.rps, "rps", 10, "increments per second")
	driveCmd.Flags().IntVar(&driveFlags.count, "count", 100, "number of increments")
}

type driveResult struct {
	accepted int
	rejected int
	elapsed  time.Duration
}

func runDrive(cmd *cobra.Command, args []string) error {
	if driveFlags.rps <= 0 {
		return fmt.Errorf("--rps must be positive, got %v", driveFlags.rps)
	}
	if driveFlags.count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", driveFlags.count)
	}

	ctx := cmd.Context()
	return withLimit(ctx, args[0], args[1], func(l *limiter.RateLimit) error {
		res, err := drive(cmd, l, rate.NewLimiter(rate.Limit(driveFlags.rps), 1), driveFlags.count)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key:      %s\n", l.Key())
		fmt.Fprintf(out, "Accepted: %d\n", res.accepted)
		fmt.Fprintf(out, "Rejected: %d\n", res.rejected)
		fmt.Fprintf(out, "Elapsed:  %s\n", res.elapsed.Round(time.Millisecond))
		return nil
	})
}

func drive(cmd *cobra.Command, l *limiter.RateLimit, pace *rate.Limiter, count int) (driveResult, error) {
	ctx := cmd.Context()
	start := time.Now()

	var res driveResult
	for i := 0; i < count; i++ {
		if err := pace.Wait(ctx); err != nil {
			return res, err
		}
		_, err := l.Increment(ctx, 1)
		switch {
		case errors.Is(err, limiter.ErrLimitExceeded):
			res.rejected++
		case err != nil:
			return res, err
		default:
			res.accepted++
		}
	}
	res.elapsed = time.Since(start)
	return res, nil
}
