// Package retry re-runs operations that failed with a transient
// connectivity error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

// Policy bounds the retries of one operation.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a component is not configured otherwise.
var DefaultPolicy = Policy{MaxAttempts: 3, InitialInterval: 2 * time.Second, MaxInterval: time.Minute}

// Notify is called before waiting for the next attempt.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, fails with a non retryable error, runs out
// of attempts or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) (int, error) {
	attempts := 0
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	bo.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max-1)), ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempts, wait)
		}
	})
	if err == nil && ctx.Err() != nil {
		return attempts, ctx.Err()
	}
	return attempts, err
}
