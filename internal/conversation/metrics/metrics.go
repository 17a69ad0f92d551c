package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the conversation module.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	Registrations      prometheus.Counter
	DuplicateRegs      prometheus.Counter
	FieldEdits         *prometheus.CounterVec
	HandleErrors       *prometheus.CounterVec
	HandleLatency      prometheus.Histogram
	MailboxDepth       prometheus.Gauge
}

// New registers the conversation metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_conversation_transitions_total",
			Help: "State transitions by source and target state",
		}, []string{"from", "to"}),

		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_conversation_validation_failures_total",
			Help: "Rejected participant input by state",
		}, []string{"state"}),

		Registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "zodiac_conversation_registrations_total",
			Help: "Profiles committed at confirmation",
		}),

		DuplicateRegs: f.NewCounter(prometheus.CounterOpts{
			Name: "zodiac_conversation_duplicate_registrations_total",
			Help: "Confirmation attempts for an already registered participant",
		}),

		FieldEdits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_conversation_field_edits_total",
			Help: "Single-field profile edits by field",
		}, []string{"field"}),

		HandleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zodiac_conversation_handle_errors_total",
			Help: "Infrastructure failures while handling an event, by stage",
		}, []string{"stage"}),

		HandleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "zodiac_conversation_handle_duration_seconds",
			Help:    "Time to handle one inbound event",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		MailboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "zodiac_conversation_pending_events",
			Help: "Events queued in participant mailboxes",
		}),
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncrementValidationFailure(state string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncrementRegistration() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) IncrementDuplicateRegistration() {
	if m != nil {
		m.DuplicateRegs.Inc()
	}
}

func (m *Metrics) IncrementFieldEdit(field string) {
	if m != nil {
		m.FieldEdits.WithLabelValues(field).Inc()
	}
}

func (m *Metrics) IncrementHandleError(stage string) {
	if m != nil {
		m.HandleErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveHandleLatency(d time.Duration) {
	if m != nil {
		m.HandleLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) AddPending(delta float64) {
	if m != nil {
		m.MailboxDepth.Add(delta)
	}
}
