// Package retry wraps upstream calls with bounded exponential backoff.
// Only transient failures are retried; everything else returns on the
// first attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mapfederate/procgate/internal/ogcerr"
)

type Policy struct {
	MaxTries     uint
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxTries:     3,
		BaseInterval: 200 * time.Millisecond,
		MaxInterval:  time.Second,
	}
}

// Do runs op until it succeeds, exhausts the attempt budget, or fails
// with a non-transient error.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	if p.MaxTries == 0 {
		p = DefaultPolicy()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseInterval
	bo.MaxInterval = p.MaxInterval

	wrapped := func() (T, error) {
		v, err := op()

		if err != nil && !ogcerr.IsTransient(err) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.MaxTries),
	)
}
