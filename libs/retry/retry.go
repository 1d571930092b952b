// Package retry runs I/O operations with a bounded number of attempts and linear backoff.
//
// The wrapper never inspects errors: every failure is retried until the attempt budget is spent,
// and the last error is returned unchanged. Callers decide what goes through Do, which in this
// repository means store and directory reads only, never validation or business rules.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

type Policy struct {
	// MaxAttempts counts the first call, so 3 means one call plus two retries.
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry, when set, is called before each sleep with the failed attempt number.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Do calls op until it succeeds or MaxAttempts calls have failed. The delay before attempt n+1
// is BaseDelay*n. Cancelling ctx stops the wait and returns the context cause.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	lb := &linearBackOff{base: p.BaseDelay}
	attempt := 0

	opts := []backoff.RetryOption{
		backoff.WithBackOff(lb),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			p.OnRetry(attempt, err, d)
		}))
	}

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op(ctx)
	}, opts...)
}

// linearBackOff yields base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
