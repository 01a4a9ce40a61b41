package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/manenim/redis-rate-limit/internal/backend"
	"github.com/manenim/redis-rate-limit/internal/config"
	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

var (
	// Global flags
	cfgFile     string
	storeType   string
	maxRequests int64
	window      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and exercise fixed-window rate limit buckets",
	Long: `ratelimit talks directly to the counter store used by the rate limited
service. It reads the same configuration file and RATELIMIT_* environment
variables, so buckets it touches are the ones the service enforces.

The limit flags override the configured policy for a single invocation.`,
	SilenceUsage: true,
}

// Execute runs the root command. An interrupt cancels the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storeType, "store", "", "store type override: memory, redis, sqlite, postgres")
	rootCmd.PersistentFlags().Int64Var(&maxRequests, "max-requests", 0, "requests admitted per window (default from config)")
	rootCmd.PersistentFlags().DurationVar(&window, "window", 0, "window length (default from config)")
}

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context, cfg *config.Config) (*backend.Backend, error) {
	return backend.Open(ctx, cfg)
}

// loadConfig reads the configuration and applies the global overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if storeType != "" {
		cfg.Store.Type = storeType
	}
	if maxRequests != 0 {
		cfg.Limit.MaxRequests = maxRequests
	}
	if window != 0 {
		cfg.Limit.Window = window
	}
	return cfg, nil
}

// withLimit opens the store and runs fn with the bucket of (resource, client).
func withLimit(ctx context.Context, resource, client string, fn func(*limiter.RateLimit) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer b.Close()

	l, err := limiter.New(ctx, b.Store, resource, client, cfg.Limit.Policy(), cfg.Options()...)
	if err != nil {
		return err
	}
	return fn(l)
}
