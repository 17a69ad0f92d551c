package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Emitted *prometheus.CounterVec
	Dropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_audit_events_total",
			Help: "Audit events enqueued by type",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "zodiac_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}

func (m *Metrics) IncrementEmitted(eventType string) {
	if m != nil {
		m.Emitted.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncrementDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}
