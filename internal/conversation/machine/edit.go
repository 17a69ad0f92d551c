package machine

import (
	"context"
	"errors"

	"zodiac/internal/audit"
	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
	profile "zodiac/internal/profile/models"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

var editChoices = map[models.Choice]profile.Field{
	models.ChoiceEditName:       profile.FieldName,
	models.ChoiceEditGender:     profile.FieldGender,
	models.ChoiceEditBirthDate:  profile.FieldBirthDate,
	models.ChoiceEditBirthPlace: profile.FieldBirthPlace,
	models.ChoiceEditBirthTime:  profile.FieldBirthTime,
}

func (m *Machine) onEditSelection(_ context.Context, sess *models.Session, ev models.Event) (step, error) {
	if ev.Choice() == models.ChoiceEditDeliveryWindow {
		sess.PendingEditField = profile.FieldDeliveryWindow
		return step{next: models.StateAwaitingEditDeliveryWindow, prompt: prompts.KeyAskEditDeliveryWindow}, nil
	}
	field, ok := editChoices[ev.Choice()]
	if !ok {
		return m.reprompt(sess), nil
	}
	sess.PendingEditField = field
	return step{next: models.StateAwaitingEditValue, prompt: prompts.EditValueKey(field.String())}, nil
}

func (m *Machine) onEditValue(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	if !sess.PendingEditField.IsValid() {
		return step{next: models.StateAwaitingEditSelection, prompt: prompts.KeyEditMenu}, nil
	}
	u, err := profile.ParseFieldValue(sess.PendingEditField, ev.Value, requestcontext.Now(ctx))
	if err != nil {
		return m.invalid(ctx, sess, err), nil
	}
	return m.applyEdit(ctx, sess, u)
}

func (m *Machine) onEditDeliveryWindow(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	w, ok := windowFromChoice(ev.Choice())
	if !ok {
		return m.reprompt(sess), nil
	}
	return m.applyEdit(ctx, sess, profile.FieldUpdate{Field: profile.FieldDeliveryWindow, DeliveryWindow: w})
}

// applyEdit writes one field and returns the participant to the scheduled
// state with a restarted watcher and a fresh delivery.
func (m *Machine) applyEdit(ctx context.Context, sess *models.Session, u profile.FieldUpdate) (step, error) {
	err := m.profiles.UpdateField(ctx, sess.ParticipantID, u)
	if errors.Is(err, sentinel.ErrNotFound) {
		sess.ResetForm()
		return step{next: models.StateIdle, prompt: prompts.KeyNotRegistered}, nil
	}
	if err != nil {
		return step{}, err
	}

	m.metrics.IncrementFieldEdit(u.Field.String())
	m.logger.InfoContext(ctx, "profile field updated",
		"participant_id", sess.ParticipantID,
		"field", u.Field,
	)
	m.emit(ctx, audit.Event{
		Type:          audit.EventProfileFieldUpdated,
		ParticipantID: sess.ParticipantID,
		Field:         u.Field.String(),
	})

	p, err := m.profiles.FindByID(ctx, sess.ParticipantID)
	if err != nil {
		return step{}, err
	}
	sess.ResetForm()
	return step{
		next:    models.StateScheduled,
		prompt:  prompts.KeyEditSaved,
		data:    prompts.SummaryFromProfile(p),
		restart: true,
		deliver: deliverEdit,
	}, nil
}
