// Package dispatcher serializes inbound events per participant. Events for
// the same participant are handled one at a time in arrival order; different
// participants proceed concurrently.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	convmetrics "zodiac/internal/conversation/metrics"
	"zodiac/internal/conversation/models"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
)

const (
	defaultHandleTimeout = 30 * time.Second
	defaultMailboxLimit  = 64
)

// Handler processes one event.
type Handler interface {
	HandleEvent(ctx context.Context, ev models.Event) error
}

type mailbox struct {
	queue []models.Event
}

type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	metrics *convmetrics.Metrics
	timeout time.Duration
	limit   int

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	mailboxes map[id.ParticipantID]*mailbox
	closed    bool
	wg        sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *convmetrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithHandleTimeout bounds a single HandleEvent call.
func WithHandleTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMailboxLimit caps queued events per participant. Extra events are
// dropped.
func WithMailboxLimit(limit int) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.limit = limit
		}
	}
}

func New(handler Handler, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler:   handler,
		logger:    slog.Default(),
		timeout:   defaultHandleTimeout,
		limit:     defaultMailboxLimit,
		baseCtx:   ctx,
		cancel:    cancel,
		mailboxes: make(map[id.ParticipantID]*mailbox),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Submit queues ev behind any pending events of the same participant.
func (d *Dispatcher) Submit(ev models.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return dErrors.New(dErrors.CodeUnavailable, "dispatcher is closed")
	}

	if mb, ok := d.mailboxes[ev.ParticipantID]; ok {
		if len(mb.queue) >= d.limit {
			d.logger.Warn("participant mailbox full, event dropped",
				"participant_id", ev.ParticipantID,
				"kind", ev.Kind,
			)
			return dErrors.New(dErrors.CodeUnavailable, "too many pending events")
		}
		mb.queue = append(mb.queue, ev)
		d.metrics.AddPending(1)
		return nil
	}

	mb := &mailbox{queue: []models.Event{ev}}
	d.mailboxes[ev.ParticipantID] = mb
	d.metrics.AddPending(1)
	d.wg.Add(1)
	go d.drain(ev.ParticipantID, mb)
	return nil
}

// drain handles mb until it is empty, then retires it.
func (d *Dispatcher) drain(pid id.ParticipantID, mb *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(mb.queue) == 0 {
			delete(d.mailboxes, pid)
			d.mu.Unlock()
			return
		}
		ev := mb.queue[0]
		mb.queue[0] = models.Event{}
		mb.queue = mb.queue[1:]
		d.mu.Unlock()

		d.metrics.AddPending(-1)
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev models.Event) {
	ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "event handler panicked",
				"participant_id", ev.ParticipantID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := d.handler.HandleEvent(ctx, ev); err != nil {
		d.logger.ErrorContext(ctx, "event handling failed",
			"participant_id", ev.ParticipantID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}

// Pending returns the number of participants with queued or running events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

// Close stops accepting events and waits for queued ones to finish. If ctx
// expires first, in-flight handlers are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
