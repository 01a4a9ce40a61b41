package limiter

import (
	"context"
	"errors"
)

// RateLimiter produces a RateLimit per client for one resource. Every limit
// it hands out shares the resource's policy and options but owns its own
// bucket.
type RateLimiter struct {
	store    CounterStore
	resource string
	limit    Limit
	opts     options
}

// NewRateLimiter validates the policy and verifies the store once, so
// ForClient cannot fail.
func NewRateLimiter(ctx context.Context, store CounterStore, resource string, limit Limit, opts ...Option) (*RateLimiter, error) {
	if store == nil {
		return nil, errors.New("limiter: store cannot be nil")
	}
	limit = limit.withDefaults()
	if err := limit.validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	if err := verify(ctx, store, o); err != nil {
		return nil, err
	}
	return &RateLimiter{
		store:    store,
		resource: resource,
		limit:    limit,
		opts:     o,
	}, nil
}

// ForClient returns the limiter for client's bucket on this resource.
func (f *RateLimiter) ForClient(client string) *RateLimit {
	return newRateLimit(f.store, f.resource, client, f.limit, f.opts)
}

// Resource returns the resource every client limit is scoped to.
func (f *RateLimiter) Resource() string { return f.resource }

// Limit returns the shared policy with defaults applied.
func (f *RateLimiter) Limit() Limit { return f.limit }

// Prefix returns the key prefix shared by every bucket of this limiter.
func (f *RateLimiter) Prefix() string { return f.opts.prefix }
