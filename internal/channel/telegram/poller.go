package telegram

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"zodiac/internal/conversation/models"
	id "zodiac/pkg/domain"
)

// Submitter accepts inbound events; the conversation dispatcher implements it.
type Submitter interface {
	Submit(ev models.Event) error
}

// Poller long-polls getUpdates and submits one event per usable update.
type Poller struct {
	client  *Client
	submit  Submitter
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
	offset  int64
}

type PollerOption func(*Poller)

func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRetryBackoff sets the pause after a failed poll.
func WithRetryBackoff(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

func NewPoller(client *Client, submit Submitter, opts ...PollerOption) *Poller {
	p := &Poller{
		client:  client,
		submit:  submit,
		timeout: 30 * time.Second,
		backoff: 3 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "telegram poller started", "poll_timeout", p.timeout)
	for {
		if ctx.Err() != nil {
			p.logger.Info("telegram poller stopped")
			return nil
		}
		updates, next, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil || isPollTimeout(err) {
				continue
			}
			p.logger.WarnContext(ctx, "telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
			continue
		}
		p.offset = next
		for _, u := range updates {
			p.dispatch(ctx, u)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	if cq := u.CallbackQuery; cq != nil {
		if err := p.client.AnswerCallbackQuery(ctx, cq.ID); err != nil {
			p.logger.DebugContext(ctx, "failed to answer callback query", "error", err)
		}
	}
	ev, ok := toEvent(u)
	if !ok {
		return
	}
	if err := p.submit.Submit(ev); err != nil {
		p.logger.WarnContext(ctx, "dropped inbound event",
			"participant_id", ev.ParticipantID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}

// toEvent maps private-chat messages and callback queries. Everything else
// is ignored.
func toEvent(u Update) (models.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil || cq.From.IsBot || cq.Data == "" {
			return models.Event{}, false
		}
		ev := models.Event{
			ParticipantID: id.ParticipantID(cq.From.ID),
			Handle:        cq.From.Username,
			Kind:          models.EventChoice,
			Value:         cq.Data,
			ReceivedAt:    time.Now(),
		}
		if cq.Message != nil {
			ev.MessageRef = models.MessageRef(cq.Message.MessageID)
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Chat == nil || m.Chat.Type != "private" {
		return models.Event{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return models.Event{}, false
	}
	ev := models.Event{
		ParticipantID: id.ParticipantID(m.From.ID),
		Handle:        m.From.Username,
		Kind:          models.EventText,
		Value:         text,
		MessageRef:    models.MessageRef(m.MessageID),
		ReceivedAt:    time.Unix(m.Date, 0),
	}
	if cmd, ok := parseCommand(text); ok {
		ev.Kind = models.EventCommand
		ev.Value = cmd
	}
	return ev, true
}

// parseCommand turns "/start@zodiac_bot payload" into "start".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}
