package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsOnFailureRatio(t *testing.T) {
	cb := NewBreaker("engine", BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.True(t, IsBreakerOpen(err))
	assert.False(t, IsRetryable(err))
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1, RetryableErrors: IsRetryable}

	err := Retry(context.Background(), policy, func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = Retry(context.Background(), policy, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestDefaultRetryPolicy_RetriesEveryError(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	policy.InitialDelay = time.Millisecond

	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), policy, func() error {
		calls++
		return boom
	})
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, boom)
}

func TestNewBreaker_FillsDefaults(t *testing.T) {
	def := DefaultBreakerConfig()
	cb := NewBreaker("defaults", BreakerConfig{})
	assert.Equal(t, "defaults", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Greater(t, def.FailureRatio, 0.0)
}
