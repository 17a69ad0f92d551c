// Package machine implements the participant dialogue as an explicit
// transition table over conversation states.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zodiac/internal/audit"
	convmetrics "zodiac/internal/conversation/metrics"
	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

// step is the outcome of handling one event: where the dialogue goes next
// and which single prompt to send. A non-empty deliver names the reason
// today's content is sent right after the prompt.
type step struct {
	next    models.State
	prompt  string
	data    any
	restart bool
	deliver string
}

type handlerFunc func(ctx context.Context, sess *models.Session, ev models.Event) (step, error)

// transition declares the one event kind a state accepts and its handler.
type transition struct {
	accepts models.EventKind
	handle  handlerFunc
}

// Machine routes inbound events through the transition table. It holds no
// per-participant state of its own; callers must serialize events for the
// same participant.
type Machine struct {
	profiles  ProfileStore
	sessions  SessionStore
	channel   models.Channel
	scheduler Scheduler
	preparer  Preparer
	catalog   *prompts.Catalog
	audit     AuditPublisher
	metrics   *convmetrics.Metrics
	logger    *slog.Logger
	table     map[models.State]transition
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func WithMetrics(metrics *convmetrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = metrics
	}
}

func WithAudit(publisher AuditPublisher) Option {
	return func(m *Machine) {
		m.audit = publisher
	}
}

func WithCatalog(catalog *prompts.Catalog) Option {
	return func(m *Machine) {
		m.catalog = catalog
	}
}

// New builds the machine. It panics if any state lacks a transition.
func New(
	profiles ProfileStore,
	sessions SessionStore,
	channel models.Channel,
	scheduler Scheduler,
	preparer Preparer,
	opts ...Option,
) *Machine {
	m := &Machine{
		profiles:  profiles,
		sessions:  sessions,
		channel:   channel,
		scheduler: scheduler,
		preparer:  preparer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.catalog == nil {
		m.catalog = prompts.Default()
	}
	m.table = m.transitions()
	mustCover(m.table)
	return m
}

func (m *Machine) transitions() map[models.State]transition {
	return map[models.State]transition{
		models.StateIdle:                       {accepts: models.EventText, handle: m.onIdle},
		models.StateAwaitingName:               {accepts: models.EventText, handle: m.onName},
		models.StateAwaitingGender:             {accepts: models.EventChoice, handle: m.onGender},
		models.StateAwaitingBirthDate:          {accepts: models.EventText, handle: m.onBirthDate},
		models.StateAwaitingBirthPlace:         {accepts: models.EventText, handle: m.onBirthPlace},
		models.StateAwaitingBirthTimeChoice:    {accepts: models.EventChoice, handle: m.onBirthTimeChoice},
		models.StateAwaitingBirthTime:          {accepts: models.EventText, handle: m.onBirthTime},
		models.StateAwaitingDeliveryWindow:     {accepts: models.EventChoice, handle: m.onDeliveryWindow},
		models.StateAwaitingConfirmation:       {accepts: models.EventChoice, handle: m.onConfirmation},
		models.StateScheduled:                  {accepts: models.EventText, handle: m.onScheduled},
		models.StateAwaitingEditSelection:      {accepts: models.EventChoice, handle: m.onEditSelection},
		models.StateAwaitingEditValue:          {accepts: models.EventText, handle: m.onEditValue},
		models.StateAwaitingEditDeliveryWindow: {accepts: models.EventChoice, handle: m.onEditDeliveryWindow},
	}
}

func mustCover(table map[models.State]transition) {
	for _, st := range models.AllStates {
		t, ok := table[st]
		if !ok || t.handle == nil {
			panic(fmt.Sprintf("conversation: no transition for state %q", st))
		}
	}
}

// HandleEvent advances the participant's dialogue by one event. Invalid
// input never produces an error; the current prompt is sent again instead.
// Store and channel failures are returned as CodeInternal.
func (m *Machine) HandleEvent(ctx context.Context, ev models.Event) error {
	start := time.Now()
	defer func() {
		m.metrics.ObserveHandleLatency(time.Since(start))
	}()

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = start
	}
	ctx = requestcontext.WithParticipantID(ctx, ev.ParticipantID)
	ctx = requestcontext.WithTime(ctx, ev.ReceivedAt)

	sess, err := m.loadSession(ctx, ev)
	if err != nil {
		return m.fail(ctx, "load_session", err)
	}
	from := sess.State

	var st step
	if ev.Kind == models.EventCommand {
		st, err = m.handleCommand(ctx, &sess, ev)
	} else {
		t, ok := m.table[sess.State]
		if !ok {
			m.logger.WarnContext(ctx, "session in unknown state, resetting",
				"participant_id", ev.ParticipantID,
				"state", sess.State,
			)
			sess.State = models.StateIdle
			t = m.table[models.StateIdle]
		}
		if ev.Kind != t.accepts {
			st = m.reprompt(&sess)
		} else {
			st, err = t.handle(ctx, &sess, ev)
		}
	}
	if err != nil {
		return m.fail(ctx, "handle", err)
	}
	return m.apply(ctx, &sess, ev, from, st)
}

func (m *Machine) loadSession(ctx context.Context, ev models.Event) (models.Session, error) {
	sess, err := m.sessions.Get(ctx, ev.ParticipantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		sess = models.NewSession(ev.ParticipantID)
	} else if err != nil {
		return models.Session{}, err
	}
	if ev.Handle != "" {
		sess.Handle = ev.Handle
	}
	return sess, nil
}

// apply performs the side effects of a step: clean up the previous prompt
// and the participant's message, send exactly one prompt, persist the
// session, restart the watcher and deliver content when asked.
func (m *Machine) apply(ctx context.Context, sess *models.Session, ev models.Event, from models.State, st step) error {
	prompt, err := m.catalog.Render(st.prompt, st.data)
	if err != nil {
		return m.fail(ctx, "render_prompt", err)
	}

	m.cleanup(ctx, sess, ev)

	sess.State = st.next
	sess.UpdatedAt = requestcontext.Now(ctx)
	ref, sendErr := m.channel.SendPrompt(ctx, sess.ParticipantID, prompt)
	if sendErr != nil {
		sess.LastPromptRef = 0
	} else {
		sess.LastPromptRef = ref
	}

	if err := m.sessions.Save(ctx, *sess); err != nil {
		return m.fail(ctx, "save_session", err)
	}

	if from != st.next {
		m.metrics.IncrementTransition(from.String(), st.next.String())
		m.logger.DebugContext(ctx, "conversation transition",
			"participant_id", sess.ParticipantID,
			"from", from,
			"to", st.next,
		)
	}

	if st.restart {
		if err := m.scheduler.Start(ctx, sess.ParticipantID); err != nil {
			return m.fail(ctx, "start_watcher", err)
		}
	}
	if st.deliver != "" {
		m.deliverNow(ctx, sess.ParticipantID, st.deliver)
	}
	if sendErr != nil {
		return m.fail(ctx, "send_prompt", sendErr)
	}
	return nil
}

func (m *Machine) cleanup(ctx context.Context, sess *models.Session, ev models.Event) {
	if !sess.LastPromptRef.IsZero() {
		if err := m.channel.DeleteMessage(ctx, sess.ParticipantID, sess.LastPromptRef); err != nil {
			m.logger.WarnContext(ctx, "failed to delete previous prompt",
				"participant_id", sess.ParticipantID,
				"message_ref", sess.LastPromptRef,
				"error", err,
			)
		}
		sess.LastPromptRef = 0
	}
	if ev.Kind != models.EventChoice && !ev.MessageRef.IsZero() {
		if err := m.channel.DeleteMessage(ctx, sess.ParticipantID, ev.MessageRef); err != nil {
			m.logger.WarnContext(ctx, "failed to delete participant message",
				"participant_id", sess.ParticipantID,
				"message_ref", ev.MessageRef,
				"error", err,
			)
		}
	}
}

func (m *Machine) fail(ctx context.Context, stage string, err error) error {
	m.metrics.IncrementHandleError(stage)
	m.logger.ErrorContext(ctx, "conversation event failed",
		"participant_id", requestcontext.ParticipantID(ctx),
		"stage", stage,
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "handle event: "+stage)
}

// reprompt keeps the state and sends its prompt again.
func (m *Machine) reprompt(sess *models.Session) step {
	st := step{next: sess.State, data: prompts.SummaryFromSession(*sess)}
	switch sess.State {
	case models.StateIdle:
		st.prompt = prompts.KeyIdleHint
	case models.StateAwaitingName:
		st.prompt = prompts.KeyAskName
	case models.StateAwaitingGender:
		st.prompt = prompts.KeyAskGender
	case models.StateAwaitingBirthDate:
		st.prompt = prompts.KeyAskBirthDate
	case models.StateAwaitingBirthPlace:
		st.prompt = prompts.KeyAskBirthPlace
	case models.StateAwaitingBirthTimeChoice:
		st.prompt = prompts.KeyAskBirthTimeChoice
	case models.StateAwaitingBirthTime:
		st.prompt = prompts.KeyAskBirthTime
	case models.StateAwaitingDeliveryWindow:
		st.prompt = prompts.KeyAskDeliveryWindow
	case models.StateAwaitingConfirmation:
		st.prompt = prompts.KeyConfirmSummary
	case models.StateScheduled:
		st.prompt = prompts.KeyScheduledHint
	case models.StateAwaitingEditSelection:
		st.prompt = prompts.KeyEditMenu
	case models.StateAwaitingEditValue:
		if !sess.PendingEditField.IsValid() {
			st.next = models.StateAwaitingEditSelection
			st.prompt = prompts.KeyEditMenu
			break
		}
		st.prompt = prompts.EditValueKey(sess.PendingEditField.String())
	case models.StateAwaitingEditDeliveryWindow:
		st.prompt = prompts.KeyAskEditDeliveryWindow
	default:
		st.next = models.StateIdle
		st.prompt = prompts.KeyIdleHint
	}
	return st
}

// invalid records rejected input and re-sends the current prompt.
func (m *Machine) invalid(ctx context.Context, sess *models.Session, err error) step {
	m.metrics.IncrementValidationFailure(sess.State.String())
	m.logger.DebugContext(ctx, "participant input rejected",
		"participant_id", sess.ParticipantID,
		"state", sess.State,
		"reason", err,
	)
	return m.reprompt(sess)
}

// lookupProfile reports whether pid is registered.
func (m *Machine) lookupProfile(ctx context.Context, pid id.ParticipantID) (profile.Profile, bool, error) {
	p, err := m.profiles.FindByID(ctx, pid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return profile.Profile{}, false, nil
	}
	if err != nil {
		return profile.Profile{}, false, err
	}
	return p, true, nil
}

// deliverNow sends today's content outside the schedule. Failures are
// logged and audited; the dialogue has already moved on.
func (m *Machine) deliverNow(ctx context.Context, pid id.ParticipantID, reason string) bool {
	if err := m.preparer.DeliverToday(ctx, pid); err != nil {
		m.logger.WarnContext(ctx, "immediate delivery failed",
			"participant_id", pid,
			"reason", reason,
			"error", err,
		)
		m.emit(ctx, audit.Event{
			Type:          audit.EventDeliveryFailed,
			ParticipantID: pid,
			Detail:        reason,
		})
		return false
	}
	m.emit(ctx, audit.Event{
		Type:          audit.EventDeliveryTriggered,
		ParticipantID: pid,
		Detail:        reason,
	})
	return true
}

func (m *Machine) emit(ctx context.Context, e audit.Event) {
	if m.audit != nil {
		m.audit.Emit(ctx, e)
	}
}

func normalizeCommand(v string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "/"))
}
