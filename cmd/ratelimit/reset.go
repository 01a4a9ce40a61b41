package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var resetFlags struct {
	prefix string
	yes    bool
}

var resetCmd = &cobra.Command{
	Use:   "reset [resource]",
	Short: "Delete buckets under a key prefix",
	Long: `Delete every bucket whose key starts with the prefix, which defaults to
the configured store prefix. With a resource argument only that resource's
buckets are deleted.

This clears limits for every client sharing the store and requires --yes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetFlags.prefix, "prefix", "", "key prefix (default from config)")
	resetCmd.Flags().BoolVar(&resetFlags.yes, "yes", false, "confirm deletion")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetFlags.yes {
		return errors.New("reset deletes buckets for all clients; pass --yes to confirm")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prefix := resetFlags.prefix
	if prefix == "" {
		prefix = cfg.Store.Prefix
	}
	if len(args) == 1 {
		// A bucket key with an empty client ends in the resource separator.
		prefix = limiter.BucketKey(prefix, args[0], "")
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer b.Close()

	n, err := limiter.Reset(ctx, b.Store, prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d bucket(s) under %q\n", n, prefix)
	return nil
}
