package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/observability"
)

func TestMetrics(t *testing.T) {
	t.Run("should count breaker transitions per key", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := observability.NewMetrics(reg)

		m.BreakerTransition("imageGeneration:openai", "closed", "open")
		m.BreakerTransition("imageGeneration:openai", "closed", "open")
		m.BreakerTransition("database", "closed", "open")

		count, err := testutil.GatherAndCount(reg, "kiln_circuit_breaker_transitions_total")
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("should track queue gauges", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := observability.NewMetrics(reg)

		m.QueueDepth(3, 2)
		m.RateLimited()
		m.GenerationCompleted(402)

		count, err := testutil.GatherAndCount(reg, "kiln_queue_pending_jobs", "kiln_rate_limited_total")
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("nil metrics should be a no-op", func(t *testing.T) {
		var m *observability.Metrics

		require.NotPanics(t, func() {
			m.BreakerTransition("k", "closed", "open")
			m.BreakerRejected("k")
			m.ProviderAttempt("openai", "success")
			m.GenerationCompleted(200)
			m.Refund("applied")
			m.RateLimited()
			m.QueueDepth(1, 1)
		})
	})
}
