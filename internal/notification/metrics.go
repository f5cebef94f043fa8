package notification

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks notifier outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	Sent     *prometheus.CounterVec
	Failed   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_notifications_sent_total",
			Help: "Notifications delivered, by notifier",
		}, []string{"notifier"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_notifications_failed_total",
			Help: "Notifications that failed, by notifier",
		}, []string{"notifier"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expedients_notification_duration_seconds",
			Help:    "Time spent delivering one notification",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"notifier"}),
	}
}

func (m *Metrics) observe(notifier string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(notifier).Observe(time.Since(start).Seconds())
	if err != nil {
		m.Failed.WithLabelValues(notifier).Inc()
		return
	}
	m.Sent.WithLabelValues(notifier).Inc()
}
