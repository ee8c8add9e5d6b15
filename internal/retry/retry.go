// Package retry holds the bounded backoff policy shared by the store-facing
// components.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	Tries   uint
	Initial time.Duration
	Max     time.Duration
}

// Default is used for economy writes, catalog reads and the streak pause check.
var Default = Policy{Tries: 4, Initial: 25 * time.Millisecond, Max: 400 * time.Millisecond}

// Options builds the backoff options for p. notify may be nil.
func (p Policy) Options(notify backoff.Notify) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	tries := p.Tries
	if tries == 0 {
		tries = 1
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(tries)}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return opts
}

// Do runs op until it succeeds, returns a permanent error, or p is exhausted.
// retryable decides which errors are worth another attempt; everything else
// is returned at once.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, notify backoff.Notify, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.Options(notify)...)
}
