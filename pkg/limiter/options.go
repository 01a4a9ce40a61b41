package limiter

import (
	"context"
	"time"
)

type options struct {
	prefix   string
	timeout  time.Duration
	recorder MetricsRecorder
	idleWait bool
}

func defaultOptions() options {
	return options{
		prefix:   DefaultPrefix,
		recorder: &NoOpMetricsRecorder{},
	}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// bound applies the configured timeout to ctx.
func (o options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Option configures a RateLimit or RateLimiter.
type Option func(*options)

// WithPrefix sets the key prefix (default "rate_limit:").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout bounds every store call made by the limiter. Zero leaves the
// caller's context untouched.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithZeroIdleWait makes WaitTime return 0 for an empty bucket instead of
// the evenly spread pacing interval (Window / MaxRequests).
func WithZeroIdleWait() Option {
	return func(o *options) {
		o.idleWait = true
	}
}
