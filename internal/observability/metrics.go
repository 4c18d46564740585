package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kiln"

// Metrics holds the prometheus collectors emitted by the generation core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	breakerTransitions *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec
	providerAttempts   *prometheus.CounterVec
	generations        *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	rateLimited        prometheus.Counter
	queuePending       prometheus.Gauge
	queueRunning       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by key.",
		}, []string{"key", "from", "to"}),
		breakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected because the circuit was open.",
		}, []string{"key"}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by outcome code.",
		}, []string{"provider", "outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generations_total",
			Help:      "Terminal generation results by HTTP status.",
		}, []string{"status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credit_refunds_total",
			Help:      "Credit refunds by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_pending_jobs",
			Help:      "Jobs waiting for admission.",
		}),
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_running_jobs",
			Help:      "Jobs currently executing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.breakerTransitions,
			m.breakerRejections,
			m.providerAttempts,
			m.generations,
			m.refunds,
			m.rateLimited,
			m.queuePending,
			m.queueRunning,
		)
	}

	return m
}

// BreakerTransition records a circuit state change.
func (m *Metrics) BreakerTransition(key, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(key, from, to).Inc()
}

// BreakerRejected records a call short-circuited by an open breaker.
func (m *Metrics) BreakerRejected(key string) {
	if m == nil {
		return
	}
	m.breakerRejections.WithLabelValues(key).Inc()
}

// ProviderAttempt records the outcome of one provider attempt.
func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// GenerationCompleted records a terminal generation result.
func (m *Metrics) GenerationCompleted(status int) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Refund records a refund attempt outcome ("applied", "rejected", "error").
func (m *Metrics) Refund(outcome string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(outcome).Inc()
}

// RateLimited records a rejected admission.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// QueueDepth updates the queue gauges.
func (m *Metrics) QueueDepth(pending, running int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(pending))
	m.queueRunning.Set(float64(running))
}
