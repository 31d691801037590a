package metrics

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics: метрики мутаций корзины.
type CartMetrics struct {
	mutations *prometheus.CounterVec
	sessions  prometheus.Gauge
}

// NewCartMetrics регистрирует метрики корзины в prometheus.DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer регистрирует метрики корзины в заданном registerer.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	return &CartMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cafe_cart_mutations_total",
			Help: "Cart mutations grouped by operation and result",
		}, []string{"op", "result"}),
		sessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cafe_cart_sessions",
			Help: "Number of open cart sessions",
		}),
	}
}

// RecordMutation учитывает мутацию корзины; err != nil помечает её как ошибочную.
func (m *CartMetrics) RecordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

// SetSessions обновляет количество открытых сессий.
func (m *CartMetrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}
