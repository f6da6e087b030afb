package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pusher/internal/config"
)

func TestWrapper_OpensAfterFailures(t *testing.T) {
	w := NewWrapper(FromSettings("test-open", config.CircuitBreakerConfig{
		MaxRequests:  1,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}))

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := w.Run(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())

	called := false
	err := w.Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestWrapper_SuccessKeepsClosed(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-closed"))

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Run(context.Background(), func(context.Context) error { return nil }))
	}

	assert.Equal(t, gobreaker.StateClosed, w.State())
	assert.Equal(t, uint32(5), w.Counts().TotalSuccesses)
}

func TestWrapper_CanceledContextSkipsCall(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-ctx"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSettings_Defaults(t *testing.T) {
	c := FromSettings("x", config.CircuitBreakerConfig{})
	assert.Equal(t, uint32(3), c.MaxRequests)
	assert.Equal(t, 60*time.Second, c.Timeout)
	assert.False(t, c.ReadyToTrip(gobreaker.Counts{Requests: 2, TotalFailures: 2}))
	assert.True(t, c.ReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 2}))
}
