package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

var fast = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestRetriesTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	attempts, err := fast.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.Unreachable(errors.New("connection refused"), "could not reach db1")
		}
		return nil
	}, func(_ error, attempt int, _ time.Duration) {
		notified = append(notified, attempt)
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	attempts, err := fast.Do(context.Background(), func(context.Context) error {
		return errs.Unreachable(errors.New("timeout"), "could not reach db1")
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errs.IsRetryable(err))
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	for _, want := range []error{
		errs.Rejected(errors.New("28P01"), "password authentication failed"),
		errs.Storage(errors.New("no space left on device"), "write dump"),
		errs.Conflict("busy"),
	} {
		attempts, err := fast.Do(context.Background(), func(context.Context) error { return want }, nil)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, want, err)
	}
}

func TestStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Policy{MaxAttempts: 10, InitialInterval: time.Hour}.Do(ctx, func(context.Context) error {
		cancel()
		return errs.Unreachable(errors.New("timeout"), "x")
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
