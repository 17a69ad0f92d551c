package content

import (
	"context"
	"errors"
	"log/slog"

	"zodiac/internal/conversation/models"
	"zodiac/internal/conversation/prompts"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

type ProfileFinder interface {
	FindByID(ctx context.Context, pid id.ParticipantID) (profile.Profile, error)
}

// LocalPreparer renders the daily notice from the prompt catalog and sends it
// straight through the messaging channel.
type LocalPreparer struct {
	profiles ProfileFinder
	channel  models.Channel
	catalog  *prompts.Catalog
	logger   *slog.Logger
}

func NewLocalPreparer(profiles ProfileFinder, channel models.Channel, catalog *prompts.Catalog, logger *slog.Logger) *LocalPreparer {
	if catalog == nil {
		catalog = prompts.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalPreparer{profiles: profiles, channel: channel, catalog: catalog, logger: logger}
}

func (p *LocalPreparer) DeliverToday(ctx context.Context, pid id.ParticipantID) error {
	prof, err := p.profiles.FindByID(ctx, pid)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "participant not registered")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load profile for delivery")
	}
	prompt, err := p.catalog.Render(prompts.KeyDailyNotice, prompts.NoticeFor(prof, requestcontext.Now(ctx)))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "render daily notice")
	}
	ref, err := p.channel.SendPrompt(ctx, pid, prompt)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "send daily notice")
	}
	p.logger.DebugContext(ctx, "daily notice sent",
		"participant_id", pid,
		"message_ref", ref,
	)
	return nil
}
