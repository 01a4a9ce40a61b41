package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimit enforces a Limit on the bucket of one (resource, client) pair.
//
// It holds no locks: every decision rests on the atomicity of the store's
// IncrAndMaybeExpire. Usage, HasBeenReached and WaitTime are unsynchronized
// reads and only advisory.
type RateLimit struct {
	store    CounterStore
	resource string
	client   string
	key      string
	limit    Limit
	opts     options
	tags     map[string]string
}

var _ Limiter = (*RateLimit)(nil)

// New builds the limiter for one (resource, client) pair. A zero Window
// defaults to one second. When store implements Verifier it is checked here,
// so an unsupported backend fails before any traffic is accounted.
func New(ctx context.Context, store CounterStore, resource, client string, limit Limit, opts ...Option) (*RateLimit, error) {
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
	return newRateLimit(store, resource, client, limit, o), nil
}

func newRateLimit(store CounterStore, resource, client string, limit Limit, o options) *RateLimit {
	return &RateLimit{
		store:    store,
		resource: resource,
		client:   client,
		key:      BucketKey(o.prefix, resource, client),
		limit:    limit,
		opts:     o,
		tags:     map[string]string{"resource": resource},
	}
}

func verify(ctx context.Context, store CounterStore, o options) error {
	v, ok := store.(Verifier)
	if !ok {
		return nil
	}
	ctx, cancel := o.bound(ctx)
	defer cancel()
	return v.Verify(ctx)
}

// Key returns the bucket key in the store.
func (r *RateLimit) Key() string { return r.key }

// Limit returns the policy with defaults applied.
func (r *RateLimit) Limit() Limit { return r.limit }

// Resource returns the resource name, unescaped.
func (r *RateLimit) Resource() string { return r.resource }

// Client returns the client identifier, unescaped.
func (r *RateLimit) Client() string { return r.client }

// Increment accounts amount units of usage and returns the bucket's new
// counter.
//
// amount must be in [1, MaxRequests]; otherwise ErrInvalidIncrement or
// ErrIncrementExceedsLimit is returned and nothing is written. When the new
// counter exceeds MaxRequests the increment stays committed and a
// *LimitExceededError is returned together with the counter.
func (r *RateLimit) Increment(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidIncrement, amount)
	}
	if amount > r.limit.MaxRequests {
		return 0, fmt.Errorf("%w: %d overflows max requests of %d", ErrIncrementExceedsLimit, amount, r.limit.MaxRequests)
	}

	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	start := time.Now()
	usage, err := r.store.IncrAndMaybeExpire(ctx, r.key, r.limit.Window, amount)
	r.opts.recorder.Add(MetricCall, 1, r.tags)
	r.opts.recorder.Observe(MetricLatency, time.Since(start).Seconds(), r.tags)
	if err != nil {
		return 0, err
	}

	if usage > r.limit.MaxRequests {
		r.opts.recorder.Add(MetricRejected, 1, r.tags)
		return usage, &LimitExceededError{Key: r.key, Usage: usage, Max: r.limit.MaxRequests}
	}
	return usage, nil
}

// Usage returns the current counter, 0 when the bucket is absent. It may be
// greater than MaxRequests.
func (r *RateLimit) Usage(ctx context.Context) (int64, error) {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()
	return r.usage(ctx)
}

func (r *RateLimit) usage(ctx context.Context) (int64, error) {
	v, ok, err := r.store.Get(ctx, r.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

// HasBeenReached reports whether usage is at or above MaxRequests.
func (r *RateLimit) HasBeenReached(ctx context.Context) (bool, error) {
	usage, err := r.Usage(ctx)
	if err != nil {
		return false, err
	}
	return usage >= r.limit.MaxRequests, nil
}

// WaitTime estimates how long the caller should wait before its next
// Increment is likely to be admitted, without incrementing.
//
// Once the limit is reached the estimate extrapolates usage linearly over
// the window and subtracts the time already elapsed, so a bucket far over its
// limit yields a wait that reaches into a later window. Below the limit the
// remaining window is spread evenly over the remaining slots. A bucket with no
// TTL (absent or just expired) is treated as having the whole window left.
func (r *RateLimit) WaitTime(ctx context.Context) (time.Duration, error) {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	usage, err := r.usage(ctx)
	if err != nil {
		return 0, err
	}
	ttl, err := r.store.TTL(ctx, r.key)
	if err != nil {
		return 0, err
	}
	return waitTime(usage, ttl, r.limit, r.opts.idleWait), nil
}

func waitTime(usage int64, ttl time.Duration, limit Limit, idleWait bool) time.Duration {
	window := limit.Window
	remaining := ttl
	if remaining <= 0 || remaining > window {
		remaining = window
	}

	switch {
	case usage >= limit.MaxRequests:
		elapsed := window - remaining
		ratio := float64(usage) / float64(limit.MaxRequests)
		wait := time.Duration(float64(window)*ratio) - elapsed
		if wait < 0 {
			return 0
		}
		return wait
	case usage == 0 && idleWait:
		return 0
	default:
		return remaining / time.Duration(limit.MaxRequests-usage)
	}
}

// Reset deletes every bucket under this limiter's prefix, across all
// resources and clients sharing it. Administrative use only.
func (r *RateLimit) Reset(ctx context.Context) (int, error) {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()
	return Reset(ctx, r.store, r.opts.prefix)
}

// Reset deletes every key in store starting with prefix and returns how many
// were removed.
func Reset(ctx context.Context, store CounterStore, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("limiter: reset requires a non-empty prefix")
	}
	keys, err := store.Scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
