package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for admission decisions.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	reg prometheus.Registerer

	// Decisions per pipeline stage
	decisions *prometheus.CounterVec

	// Rate limit rejections per category
	rateLimitHits *prometheus.CounterVec

	// Reservations taken and released
	reservations *prometheus.CounterVec

	// Spending recorded per token
	spent *prometheus.CounterVec

	// Audit sink failures
	sinkFailures prometheus.Counter

	// Check latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_decisions_total",
				Help: "Total number of admission decisions by stage and result",
			},
			[]string{"stage", "result"},
		),

		rateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_hits_total",
				Help: "Total number of rate limit rejections by category",
			},
			[]string{"category"},
		),

		reservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_reservations_total",
				Help: "Total number of admission reservations by action",
			},
			[]string{"action"},
		),

		spent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_spending_recorded_total",
				Help: "Total amount of spending recorded by token",
			},
			[]string{"token"},
		),

		sinkFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_sink_failures_total",
				Help: "Total number of failed audit sink writes",
			},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision records the outcome of one pipeline stage.
func (m *Metrics) RecordDecision(stage string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.decisions.WithLabelValues(stage, result).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(category string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(category).Inc()
}

// RecordReservation records a reservation being taken or released.
func (m *Metrics) RecordReservation(action string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(action).Inc()
}

// RecordSpending adds amount to the recorded spending of token.
func (m *Metrics) RecordSpending(token string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.spent.WithLabelValues(token).Add(amount)
}

// RecordSinkFailure records a failed audit sink write.
func (m *Metrics) RecordSinkFailure() {
	if m == nil {
		return
	}
	m.sinkFailures.Inc()
}

// RecordCheckDuration records the duration of an admission operation.
func (m *Metrics) RecordCheckDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}

// RegisterAllowlistReloads exposes a counter that reads its value from fn.
func (m *Metrics) RegisterAllowlistReloads(fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gatekeeper_allowlist_reloads_total",
			Help: "Total number of allowlist rebuilds",
		},
		fn,
	)
}

// RegisterRateLimitKeys exposes a gauge of stored rate limit keys.
func (m *Metrics) RegisterRateLimitKeys(fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gatekeeper_rate_limit_keys",
			Help: "Number of composite keys stored by the rate limiter",
		},
		fn,
	)
}
