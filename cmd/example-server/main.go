// Command example-server serves a rate limited /ping endpoint backed by the
// counter store named in its configuration.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/manenim/redis-rate-limit/internal/backend"
	"github.com/manenim/redis-rate-limit/internal/config"
	"github.com/manenim/redis-rate-limit/internal/logger"
	"github.com/manenim/redis-rate-limit/internal/observability"
	"github.com/manenim/redis-rate-limit/internal/server"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, closer, err := logger.Setup(cfg.Logging, cfg.Tracing.ServiceName)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Tracing, reg)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var backendOpts []backend.Option
	if cfg.Metrics.Enabled || cfg.Tracing.Enabled {
		backendOpts = append(backendOpts, backend.WithInstrumentation())
	}
	b, err := backend.Open(startCtx, cfg, backendOpts...)
	if err != nil {
		slog.Error("Failed to open counter store", "store", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer b.Close()

	srv, err := server.New(startCtx, cfg, b, reg, log)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Server shutdown complete")
}
