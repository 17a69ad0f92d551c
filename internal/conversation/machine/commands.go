package machine

import (
	"context"

	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
)

// Audit details for deliveries outside the schedule.
const (
	deliverOnDemand     = "on_demand"
	deliverRegistration = "registration"
	deliverEdit         = "edit"
)

// handleCommand serves the commands accepted in every state.
func (m *Machine) handleCommand(ctx context.Context, sess *models.Session, ev models.Event) (step, error) {
	cmd := normalizeCommand(ev.Value)
	switch cmd {
	case models.CommandStart, models.CommandHelp, models.CommandChange, models.CommandSend, models.CommandInfo, models.CommandGetInfo:
	default:
		return step{next: sess.State, prompt: prompts.KeyUnknownCommand}, nil
	}

	p, registered, err := m.lookupProfile(ctx, sess.ParticipantID)
	if err != nil {
		return step{}, err
	}

	switch cmd {
	case models.CommandStart, models.CommandHelp:
		if registered {
			sess.ResetForm()
			return step{
				next:    models.StateScheduled,
				prompt:  prompts.KeyWelcomeBack,
				data:    prompts.SummaryFromProfile(p),
				restart: true,
			}, nil
		}
		fresh := models.NewSession(sess.ParticipantID)
		fresh.Handle = sess.Handle
		fresh.LastPromptRef = sess.LastPromptRef
		*sess = fresh
		return step{next: models.StateAwaitingName, prompt: prompts.KeyAskName}, nil
	}

	if !registered {
		return step{next: sess.State, prompt: prompts.KeyNotRegistered}, nil
	}

	switch cmd {
	case models.CommandChange:
		sess.ResetForm()
		return step{next: models.StateAwaitingEditSelection, prompt: prompts.KeyEditMenu}, nil

	case models.CommandSend:
		if !m.deliverNow(ctx, sess.ParticipantID, deliverOnDemand) {
			return step{next: sess.State, prompt: prompts.KeyDeliveryFailed}, nil
		}
		return step{next: sess.State, prompt: prompts.KeyDeliveryRequested}, nil

	default: // info
		return step{next: sess.State, prompt: prompts.KeyProfileInfo, data: prompts.SummaryFromProfile(p)}, nil
	}
}
