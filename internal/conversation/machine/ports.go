package machine

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks ProfileStore,SessionStore,Scheduler,Preparer,AuditPublisher

import (
	"context"

	"zodiac/internal/audit"
	"zodiac/internal/conversation/models"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
)

// ProfileStore is the durable profile persistence the machine commits to.
type ProfileStore interface {
	Create(ctx context.Context, p profile.Profile) error
	FindByID(ctx context.Context, pid id.ParticipantID) (profile.Profile, error)
	UpdateField(ctx context.Context, pid id.ParticipantID, u profile.FieldUpdate) error
}

// SessionStore holds per-participant dialogue state.
type SessionStore interface {
	Get(ctx context.Context, pid id.ParticipantID) (models.Session, error)
	Save(ctx context.Context, sess models.Session) error
}

// Scheduler (re)starts the participant's delivery watcher.
type Scheduler interface {
	Start(ctx context.Context, pid id.ParticipantID) error
}

// Preparer produces and delivers today's content on demand.
type Preparer interface {
	DeliverToday(ctx context.Context, pid id.ParticipantID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event)
}
