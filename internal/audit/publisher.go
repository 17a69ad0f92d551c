package audit

import (
	"context"
	"log/slog"

	id "zodiac/pkg/domain"
	"zodiac/pkg/requestcontext"
)

const defaultBufferSize = 1024

// Publisher enqueues audit events for the Worker. Emit never blocks the
// caller; when the buffer is full the event is dropped and logged.
type Publisher struct {
	events  chan Event
	logger  *slog.Logger
	metrics *Metrics
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(bufferSize int, opts ...PublisherOption) *Publisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	p := &Publisher{
		events: make(chan Event, bufferSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Emit stamps the event with an id, time and request id taken from ctx
// when missing, then enqueues it.
func (p *Publisher) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = id.NewEventID().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = requestcontext.Now(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	select {
	case p.events <- e:
		p.metrics.IncrementEmitted(string(e.Type))
	default:
		p.metrics.IncrementDropped()
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"type", e.Type,
			"participant_id", e.ParticipantID,
		)
	}
}

// Events is the worker side of the queue.
func (p *Publisher) Events() <-chan Event {
	return p.events
}
