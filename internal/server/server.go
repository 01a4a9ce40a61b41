// Package server exposes a rate limited HTTP service backed by any counter
// store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/manenim/redis-rate-limit/internal/backend"
	"github.com/manenim/redis-rate-limit/internal/config"
	"github.com/manenim/redis-rate-limit/pkg/limiter"
	"github.com/manenim/redis-rate-limit/pkg/metrics"
)

const purgeTimeout = 30 * time.Second

type Server struct {
	cfg     *config.Config
	backend *backend.Backend
	limiter *limiter.RateLimiter
	logger  *slog.Logger

	httpServer *http.Server
	cron       *cron.Cron
}

// New wires the limiter, routes and purge job. reg receives the limiter
// metrics and is served on the metrics path.
func New(ctx context.Context, cfg *config.Config, b *backend.Backend, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	opts := cfg.Options()
	if cfg.Metrics.Enabled {
		opts = append(opts, limiter.WithRecorder(metrics.NewPrometheusRecorder(reg, cfg.Metrics.Namespace)))
	}

	f, err := limiter.NewRateLimiter(ctx, b.Store, cfg.Limit.Resource, cfg.Limit.Policy(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		backend: b,
		limiter: f,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.routes(reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if b.Purger != nil && cfg.Purge.Schedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.Purge.Schedule, s.purgeExpired); err != nil {
			return nil, fmt.Errorf("invalid purge schedule: %w", err)
		}
	}
	return s, nil
}

func (s *Server) routes(reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	if s.cfg.Tracing.Enabled {
		metricsPath := s.cfg.Metrics.Path
		r.Use(otelmux.Middleware(s.cfg.Tracing.ServiceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != metricsPath
			}),
		))
	}
	r.Use(RequestID)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/usage/{client}", s.usage).Methods(http.MethodGet)

	limit := RateLimit(s.limiter, s.cfg.HTTP, s.logger)
	r.Handle("/ping", limit(http.HandlerFunc(s.ping))).Methods(http.MethodGet)

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s.cron != nil {
		s.cron.Start()
		s.logger.Info("Purge job scheduled", "schedule", s.cfg.Purge.Schedule)
	}
	s.logger.Info("Starting server",
		"addr", s.httpServer.Addr,
		"store", s.backend.Type,
		"resource", s.limiter.Resource(),
		"max_requests", s.limiter.Limit().MaxRequests,
		"window", s.limiter.Limit().Window,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the purge job, waiting for a running purge, then drains
// HTTP connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) purgeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.backend.Purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("Purge of expired buckets failed", "error", err)
		return
	}
	s.logger.Info("Purged expired buckets", "rows", n, "duration", time.Since(start))
}
