package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказа.
type CheckoutMetrics struct {
	started       prometheus.Counter
	completed     prometheus.Counter
	failed        *prometheus.CounterVec
	compensations *prometheus.CounterVec
	clearWarnings prometheus.Counter
	replays       prometheus.Counter

	duration     prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в заданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		started: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_started_total",
			Help: "Total number of checkouts started",
		}),
		completed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_completed_total",
			Help: "Total number of checkouts completed",
		}),
		failed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_failed_total",
			Help: "Total number of failed checkouts grouped by reason",
		}, []string{"reason"}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_compensations_total",
			Help: "Compensating wallet credits after failed order submission grouped by result",
		}, []string{"result"}),
		clearWarnings: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_clear_warnings_total",
			Help: "Checkouts that completed but failed to clear the cart",
		}),
		replays: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_checkout_idempotent_replays_total",
			Help: "Checkout responses replayed by idempotency key",
		}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cafe_checkout_duration_seconds",
			Help:    "Duration of checkouts in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cafe_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cafe_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cafe_checkouts_in_flight",
			Help: "Number of checkouts currently being processed",
		}),
	}
}

// RecordStarted увеличивает счётчик начатых оформлений и in-flight gauge.
func (m *CheckoutMetrics) RecordStarted() {
	m.started.Inc()
	m.inFlight.Inc()
}

// RecordFinished уменьшает in-flight gauge и пишет длительность оформления.
func (m *CheckoutMetrics) RecordFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(duration.Seconds())
}

// RecordCompleted увеличивает счётчик успешных оформлений.
func (m *CheckoutMetrics) RecordCompleted() {
	m.completed.Inc()
}

// RecordFailed увеличивает счётчик неудачных оформлений с причиной.
func (m *CheckoutMetrics) RecordFailed(reason string) {
	m.failed.WithLabelValues(reason).Inc()
}

// RecordCompensation учитывает компенсирующее зачисление; ok=false: компенсация не удалась.
func (m *CheckoutMetrics) RecordCompensation(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}

// RecordClearWarning учитывает неудачную очистку корзины после оформления.
func (m *CheckoutMetrics) RecordClearWarning() {
	m.clearWarnings.Inc()
}

// RecordReplay учитывает ответ, выданный повторно по ключу идемпотентности.
func (m *CheckoutMetrics) RecordReplay() {
	m.replays.Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
