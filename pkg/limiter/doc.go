// Package limiter provides distributed admission control based on fixed-window
// counters kept in an external store.
//
// The primary entry point is RateLimit, bound to one (resource, client) pair:
//
//	l, err := limiter.New(ctx, store, "search", "user_123",
//		limiter.Limit{MaxRequests: 10, Window: time.Second})
//	usage, err := l.Increment(ctx, 1)
//
// Increment returns the bucket's counter after the increment. When the counter
// is above MaxRequests the error is a *LimitExceededError (matching
// ErrLimitExceeded) and the caller should reject the request.
//
// # Overview
//
// Each (resource, client) pair owns a bucket: an integer counter with an
// expiry. The first increment of a window creates the counter and arms the
// expiry; later increments only add to it. When the expiry fires the bucket
// disappears and the next increment starts a new window.
//
// The increment and the conditional expiry run as one atomic store operation,
// so concurrent callers across many processes enforce a single budget without
// any locking in this package.
//
// # Core Types
//
// Limit defines the policy:
//
//   - MaxRequests: units of usage admitted per window
//   - Window: window length, defaulting to one second, in whole milliseconds
//
// CounterStore is the store contract. Three implementations are provided:
//
//   - RedisStore: production backend. The increment is a Lua script run with
//     EVALSHA, falling back to EVAL when the script cache was flushed.
//     Requires Redis 2.6.0 or newer.
//
//   - SQLStore: database/sql backend for SQLite or PostgreSQL. The increment
//     is a single INSERT ... ON CONFLICT DO UPDATE ... RETURNING statement.
//
//   - MemoryStore: an in-process map. Useful for tests and single-instance
//     deployments; it does not enforce a global limit across replicas.
//
// RateLimiter hands out a RateLimit per client for one resource so callers do
// not repeat the policy.
//
// # Overshoot
//
// Rejected increments are not rolled back. A client that keeps calling while
// over the limit keeps raising its counter, and WaitTime extrapolates that
// usage over the window, so the suggested wait grows.
//
// # Wait times
//
// WaitTime is advisory and does not increment:
//
//   - limit reached: Window*usage/MaxRequests minus the time elapsed in the
//     current window
//   - below the limit: the remaining window spread over the remaining slots
//     (Window/MaxRequests for an empty bucket, or 0 with WithZeroIdleWait)
//
// # Context and Error Policy
//
// Every operation takes a context.Context, which stores pass through to the
// backend. Store errors are returned as-is; this package never decides
// between failing open and failing closed.
//
// # Storage Details
//
// Buckets live under
//
//	"{prefix}{resource}:{client}"
//
// with ':' and '%' percent-escaped inside resource and client. The default
// prefix is "rate_limit:". Reset deletes every key under a prefix and is meant
// for administration only.
//
// # Configuration
//
//	l, _ := limiter.New(ctx, store, resource, client, limit,
//		limiter.WithPrefix("myapp:rate:"),
//		limiter.WithTimeout(100*time.Millisecond),
//		limiter.WithRecorder(myMetrics),
//	)
//
// Supported options:
//
//   - WithPrefix(string): key prefix (default "rate_limit:")
//   - WithTimeout(time.Duration): deadline applied to each store call
//   - WithRecorder(MetricsRecorder): custom metrics backend
//   - WithZeroIdleWait(): WaitTime returns 0 for an empty bucket
package limiter
