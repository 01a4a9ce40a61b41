package limiter

import "context"

// Do accounts one unit of usage and runs fn only when it was admitted. An
// overflow aborts fn with the *LimitExceededError; nothing happens after fn
// returns.
func (r *RateLimit) Do(ctx context.Context, fn func(context.Context) error) error {
	if _, err := r.Increment(ctx, 1); err != nil {
		return err
	}
	return fn(ctx)
}

// Wrap returns fn guarded by Do.
func (r *RateLimit) Wrap(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return r.Do(ctx, fn)
	}
}
