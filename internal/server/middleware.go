package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/manenim/redis-rate-limit/internal/config"
	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Usage      int64  `json:"usage,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// RateLimit admits each request against the bucket of the client it comes
// from. Rejections get 429 with Retry-After; store failures get 503 unless
// cfg.FailOpen lets the request through.
func RateLimit(f *limiter.RateLimiter, cfg config.HTTPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	maxRequests := f.Limit().MaxRequests
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			client := ClientKey(r, cfg)
			l := f.ForClient(client)

			usage, err := l.Increment(ctx, 1)
			var exceeded *limiter.LimitExceededError
			switch {
			case errors.As(err, &exceeded):
				retryAfter := retryAfterSeconds(ctx, l)
				setLimitHeaders(w, maxRequests, usage)
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error:      "Rate limit exceeded",
					Code:       "RATE_LIMIT_EXCEEDED",
					Usage:      exceeded.Usage,
					Limit:      exceeded.Max,
					RetryAfter: retryAfter,
				})
				logger.Warn("Rate limit exceeded",
					"client", client,
					"resource", f.Resource(),
					"usage", exceeded.Usage,
					"limit", exceeded.Max,
					"retry_after", retryAfter,
					"request_id", RequestIDFrom(ctx),
				)
				return
			case err != nil:
				logger.Error("Rate limit check failed",
					"client", client,
					"error", err,
					"fail_open", cfg.FailOpen,
					"request_id", RequestIDFrom(ctx),
				)
				if !cfg.FailOpen {
					writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
						Error: "Rate limiter unavailable",
						Code:  "RATE_LIMITER_UNAVAILABLE",
					})
					return
				}
			default:
				setLimitHeaders(w, maxRequests, usage)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setLimitHeaders(w http.ResponseWriter, maxRequests, usage int64) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(maxRequests, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining(maxRequests, usage), 10))
}

func remaining(maxRequests, usage int64) int64 {
	if usage >= maxRequests {
		return 0
	}
	return maxRequests - usage
}

// retryAfterSeconds rounds WaitTime up to whole seconds, never below 1.
func retryAfterSeconds(ctx context.Context, l *limiter.RateLimit) int64 {
	wait, err := l.WaitTime(ctx)
	if err != nil || wait <= 0 {
		return 1
	}
	return int64(math.Ceil(wait.Seconds()))
}

// ClientKey identifies the caller: the configured header first, then the
// first X-Forwarded-For hop when trusted, then the remote host.
func ClientKey(r *http.Request, cfg config.HTTPConfig) string {
	if cfg.KeyHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(cfg.KeyHeader)); v != "" {
			return "key:" + v
		}
	}
	if cfg.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
