package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/queue"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := queue.NewRateLimiter(queue.RateLimitConfig{MaxRequests: 2, Window: 10 * time.Second}, clock)

	require.NoError(t, limiter.Allow("u1"))
	now = now.Add(4 * time.Second)
	require.NoError(t, limiter.Allow("u1"))

	now = now.Add(time.Second)
	err := limiter.Allow("u1")
	var rlErr *queue.RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 5*time.Second, rlErr.RetryAfter)

	// The first hit leaves the window after 10s; the second still counts.
	now = now.Add(5 * time.Second)
	require.NoError(t, limiter.Allow("u1"))
	require.Error(t, limiter.Allow("u1"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := queue.NewRateLimiter(queue.RateLimitConfig{}, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Allow("u1"))
	}

	var nilLimiter *queue.RateLimiter
	require.NoError(t, nilLimiter.Allow("u1"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := queue.NewRateLimiter(queue.RateLimitConfig{MaxRequests: 5, Window: time.Minute},
		func() time.Time { return now })

	require.NoError(t, limiter.Allow("a"))
	require.NoError(t, limiter.Allow("b"))
	now = now.Add(30 * time.Second)
	require.NoError(t, limiter.Allow("b"))

	now = now.Add(45 * time.Second)
	require.Equal(t, 1, limiter.Sweep())
	require.Equal(t, 1, limiter.Tracked())
}

func TestRateLimiter_StartStopIdempotent(t *testing.T) {
	limiter := queue.NewRateLimiter(queue.RateLimitConfig{
		MaxRequests:   1,
		Window:        time.Millisecond,
		SweepInterval: time.Millisecond,
	}, nil)

	limiter.Start()
	limiter.Start()
	require.True(t, limiter.Running())

	require.NoError(t, limiter.Allow("a"))
	require.Eventually(t, func() bool { return limiter.Tracked() == 0 }, time.Second, time.Millisecond)

	limiter.Stop()
	limiter.Stop()
	require.False(t, limiter.Running())

	limiter.Start()
	require.True(t, limiter.Running())
	limiter.Stop()
}
