package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks payment attempts and gateway health.
type Metrics struct {
	Attempts        *prometheus.CounterVec
	GatewayDuration prometheus.Histogram
	BreakerOpen     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_payments_total",
			Help: "Payment attempts by outcome (approved, declined, error)",
		}, []string{"outcome"}),
		GatewayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "expedients_payment_gateway_duration_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "expedients_payment_gateway_breaker_open",
			Help: "Payment gateway circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) ObserveAttempt(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.GatewayDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
