package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for event dispatch. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	Published       *prometheus.CounterVec
	Unrouted        *prometheus.CounterVec
	Delivered       *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	Pending         prometheus.Gauge
}

// NewMetrics registers bus metrics on reg, or the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_events_published_total",
			Help: "Total number of events published, by event name",
		}, []string{"event"}),
		Unrouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_events_unrouted_total",
			Help: "Total number of events published with no subscriber",
		}, []string{"event"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_events_delivered_total",
			Help: "Total number of events handled successfully, by event and subscriber",
		}, []string{"event", "subscriber"}),
		HandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "expedients_event_handler_failures_total",
			Help: "Total number of handler errors and panics, by event and subscriber",
		}, []string{"event", "subscriber"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expedients_event_handler_duration_seconds",
			Help:    "Time spent in event handlers",
			Buckets: prometheus.DefBuckets,
		}, []string{"event", "subscriber"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "expedients_events_pending",
			Help: "Events enqueued but not yet handled",
		}),
	}
}

func (m *Metrics) published(event string, subscribers int) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(event).Inc()
	if subscribers == 0 {
		m.Unrouted.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) handled(event, subscriber string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(event, subscriber).Observe(seconds)
	if err != nil {
		m.HandlerFailures.WithLabelValues(event, subscriber).Inc()
		return
	}
	m.Delivered.WithLabelValues(event, subscriber).Inc()
}

func (m *Metrics) enqueued() {
	if m == nil {
		return
	}
	m.Pending.Inc()
}

func (m *Metrics) dequeued() {
	if m == nil {
		return
	}
	m.Pending.Dec()
}
