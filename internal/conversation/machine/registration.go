package machine

import (
	"context"
	"errors"

	"zodiac/internal/audit"
	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

func (m *Machine) onIdle(_ context.Context, _ *models.Session, _ models.Event) (step, error) {
	return step{next: models.StateIdle, prompt: prompts.KeyIdleHint}, nil
}

func (m *Machine) onScheduled(_ context.Context, _ *models.Session, _ models.Event) (step, error) {
	return step{next: models.StateScheduled, prompt: prompts.KeyScheduledHint}, nil
}

func (m *Machine) onName(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	name, err := profile.ParseText(ev.Value)
	if err != nil {
		return m.invalid(ctx, sess, err), nil
	}
	sess.DisplayName = name
	return step{next: models.StateAwaitingGender, prompt: prompts.KeyAskGender, data: prompts.SummaryFromSession(*sess)}, nil
}

func (m *Machine) onGender(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	switch ev.Choice() {
	case models.ChoiceGenderMale:
		sess.Gender = id.GenderMale
	case models.ChoiceGenderFemale:
		sess.Gender = id.GenderFemale
	default:
		return m.reprompt(sess), nil
	}
	return step{next: models.StateAwaitingBirthDate, prompt: prompts.KeyAskBirthDate}, nil
}

func (m *Machine) onBirthDate(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	d, err := profile.ParseBirthDate(ev.Value, requestcontext.Now(ctx))
	if err != nil {
		return m.invalid(ctx, sess, err), nil
	}
	sess.BirthDate = d.Format(profile.BirthDateLayout)
	return step{next: models.StateAwaitingBirthPlace, prompt: prompts.KeyAskBirthPlace}, nil
}

func (m *Machine) onBirthPlace(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	place, err := profile.ParseText(ev.Value)
	if err != nil {
		return m.invalid(ctx, sess, err), nil
	}
	sess.BirthPlace = place
	return step{next: models.StateAwaitingBirthTimeChoice, prompt: prompts.KeyAskBirthTimeChoice}, nil
}

func (m *Machine) onBirthTimeChoice(_ context.Context, sess *models.Session, ev models.Event) (step, error) {
	switch ev.Choice() {
	case models.ChoiceBirthTimeKnown:
		return step{next: models.StateAwaitingBirthTime, prompt: prompts.KeyAskBirthTime}, nil
	case models.ChoiceBirthTimeUnknown:
		sess.BirthTimeKnown = false
		sess.BirthTime = ""
		return step{next: models.StateAwaitingDeliveryWindow, prompt: prompts.KeyAskDeliveryWindow}, nil
	}
	return m.reprompt(sess), nil
}

func (m *Machine) onBirthTime(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	t, err := profile.ParseTimeOfDay(ev.Value)
	if err != nil {
		return m.invalid(ctx, sess, err), nil
	}
	sess.BirthTimeKnown = true
	sess.BirthTime = t.String()
	return step{next: models.StateAwaitingDeliveryWindow, prompt: prompts.KeyAskDeliveryWindow}, nil
}

func (m *Machine) onDeliveryWindow(_ context.Context, sess *models.Session, ev models.Event) (step, error) {
	w, ok := windowFromChoice(ev.Choice())
	if !ok {
		return m.reprompt(sess), nil
	}
	sess.DeliveryWindow = w
	return step{
		next:   models.StateAwaitingConfirmation,
		prompt: prompts.KeyConfirmSummary,
		data:   prompts.SummaryFromSession(*sess),
	}, nil
}

// onConfirmation commits the profile on either answer. Disagreeing still
// commits so the edit flow has a record to update.
func (m *Machine) onConfirmation(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	c := ev.Choice()
	if c != models.ChoiceConfirmAgree && c != models.ChoiceConfirmDisagree {
		return m.reprompt(sess), nil
	}

	p, err := sess.ToProfile(requestcontext.Now(ctx))
	if err != nil {
		m.logger.WarnContext(ctx, "collected form no longer valid, restarting registration",
			"participant_id", sess.ParticipantID,
			"error", err,
		)
		sess.ResetForm()
		return step{next: models.StateAwaitingName, prompt: prompts.KeyAskName}, nil
	}
	if err := m.commit(ctx, p); err != nil {
		return step{}, err
	}
	sess.ResetForm()

	if c == models.ChoiceConfirmDisagree {
		return step{next: models.StateAwaitingEditSelection, prompt: prompts.KeyEditMenu}, nil
	}
	return step{
		next:    models.StateScheduled,
		prompt:  prompts.KeyRegistered,
		data:    prompts.SummaryFromProfile(p),
		restart: true,
		deliver: deliverRegistration,
	}, nil
}

// commit creates the profile. A duplicate is logged and treated as already
// registered.
func (m *Machine) commit(ctx context.Context, p profile.Profile) error {
	err := m.profiles.Create(ctx, p)
	switch {
	case err == nil:
		m.metrics.IncrementRegistration()
		m.logger.InfoContext(ctx, "participant registered",
			"participant_id", p.ParticipantID,
			"delivery_window", p.DeliveryWindow,
		)
		m.emit(ctx, audit.Event{
			Type:          audit.EventParticipantRegistered,
			ParticipantID: p.ParticipantID,
			Detail:        p.DeliveryWindow.String(),
		})
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		m.metrics.IncrementDuplicateRegistration()
		m.logger.WarnContext(ctx, "participant already registered",
			"participant_id", p.ParticipantID,
		)
		m.emit(ctx, audit.Event{
			Type:          audit.EventParticipantAlreadyRegistered,
			ParticipantID: p.ParticipantID,
		})
		return nil
	default:
		return err
	}
}

func windowFromChoice(c models.Choice) (id.DeliveryWindow, bool) {
	switch c {
	case models.ChoiceWindowMorning:
		return id.DeliveryMorning, true
	case models.ChoiceWindowEvening:
		return id.DeliveryEvening, true
	}
	return "", false
}
