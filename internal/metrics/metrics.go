package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/retry"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
type Metrics struct {
	NotificationsSent     *prometheus.CounterVec
	NotificationsFailed   *prometheus.CounterVec
	NotificationsRequeued *prometheus.CounterVec
	DeliveryLatency       *prometheus.HistogramVec

	RetryAttempts        *prometheus.CounterVec
	RetryOutcomes        *prometheus.CounterVec
	RetryAttemptDuration *prometheus.HistogramVec

	BreakerTransitions  *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec

	reg prometheus.Registerer
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"channel"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of permanently failed notifications (retries exhausted or permanent error).",
		}, []string{"channel"}),

		NotificationsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_requeued_total",
			Help: "Total number of notifications rescheduled after a retryable failure.",
		}, []string{"channel"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "End-to-end processing latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Individual retry executor attempts by strategy and result.",
		}, []string{"strategy", "result"}),

		RetryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_executions_total",
			Help: "Completed retry executions by strategy and final status.",
		}, []string{"strategy", "status"}),

		RetryAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retry_attempt_duration_seconds",
			Help:    "Wall time of individual retry executor attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),

		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions by dependency key and new state.",
		}, []string{"key", "state"}),

		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Dispatch attempts deferred by the rate limiter, by window.",
		}, []string{"window"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of items waiting per priority lane.",
		}, []string{"priority"}),
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsRequeued,
		m.DeliveryLatency,
		m.RetryAttempts,
		m.RetryOutcomes,
		m.RetryAttemptDuration,
		m.BreakerTransitions,
		m.RateLimitRejections,
		m.QueueDepth,
	)
	m.reg = reg

	return m
}

// TrackRetriesInFlight registers a gauge backed by the executor's live
// in-flight counter, sampled at scrape time.
func (m *Metrics) TrackRetriesInFlight(fn func() int64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "retry_executions_in_flight",
		Help: "Retry executions currently running.",
	}, func() float64 { return float64(fn()) }))
}

// DispatchHooks returns the callbacks the dispatcher expects. Centralises
// the prometheus observation calls so the worker package stays import-free.
func (m *Metrics) DispatchHooks() (
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
	onRequeued func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(ch)).Inc()
		m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onFailed = func(ch domain.Channel) {
		m.NotificationsFailed.WithLabelValues(string(ch)).Inc()
	}
	onRequeued = func(ch domain.Channel) {
		m.NotificationsRequeued.WithLabelValues(string(ch)).Inc()
	}
	return
}

// RetryHooks adapts the instruments to the retry executor's hook points.
func (m *Metrics) RetryHooks() retry.Hooks {
	return retry.Hooks{
		OnAttempt: func(strategy string, ok bool, duration time.Duration) {
			result := "failure"
			if ok {
				result = "success"
			}
			m.RetryAttempts.WithLabelValues(strategy, result).Inc()
			m.RetryAttemptDuration.WithLabelValues(strategy).Observe(duration.Seconds())
		},
		OnOutcome: func(strategy string, status retry.ExecutionStatus, _ int) {
			m.RetryOutcomes.WithLabelValues(strategy, string(status)).Inc()
		},
	}
}

// BreakerStateHook records breaker transitions.
func (m *Metrics) BreakerStateHook() func(key string, from, to breaker.State) {
	return func(key string, _, to breaker.State) {
		m.BreakerTransitions.WithLabelValues(key, to.String()).Inc()
	}
}

// RateLimitRejectHook counts limiter rejections per window.
func (m *Metrics) RateLimitRejectHook() func(window string) {
	return func(window string) {
		m.RateLimitRejections.WithLabelValues(window).Inc()
	}
}

// ObserveQueueDepths refreshes the per-lane depth gauges.
func (m *Metrics) ObserveQueueDepths(depths map[domain.Priority]int) {
	for p, d := range depths {
		m.QueueDepth.WithLabelValues(string(p)).Set(float64(d))
	}
}
