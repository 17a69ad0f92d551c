package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the delivery watchers.
type Metrics struct {
	ActiveWatchers   prometheus.Gauge
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	LedgerErrors     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveWatchers: f.NewGauge(prometheus.GaugeOpts{
			Name: "zodiac_delivery_active_watchers",
			Help: "Participants with a running delivery watcher",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_delivery_attempts_total",
			Help: "Scheduled delivery attempts by window and outcome",
		}, []string{"window", "outcome"}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "zodiac_delivery_duration_seconds",
			Help:    "Duration of content preparation and delivery",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LedgerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "zodiac_delivery_ledger_errors_total",
			Help: "Ticks skipped because the delivery ledger was unavailable",
		}),
	}
}

func (m *Metrics) SetActiveWatchers(n int) {
	if m != nil {
		m.ActiveWatchers.Set(float64(n))
	}
}

func (m *Metrics) IncrementDelivery(window, outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(window, outcome).Inc()
	}
}

func (m *Metrics) ObserveDeliveryDuration(d time.Duration) {
	if m != nil {
		m.DeliveryDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementLedgerError() {
	if m != nil {
		m.LedgerErrors.Inc()
	}
}
