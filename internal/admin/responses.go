package admin

import (
	"time"

	"zodiac/internal/audit"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
)

// ParticipantResponse is the HTTP DTO for a stored profile.
type ParticipantResponse struct {
	ParticipantID  id.ParticipantID `json:"participant_id"`
	Name           string           `json:"name"`
	Handle         string           `json:"handle,omitempty"`
	Gender         string           `json:"gender"`
	BirthDate      string           `json:"birth_date"`
	BirthPlace     string           `json:"birth_place"`
	BirthTime      string           `json:"birth_time,omitempty"`
	DeliveryWindow string           `json:"delivery_window"`
	WatcherActive  bool             `json:"watcher_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func toParticipantResponse(p profile.Profile, active bool) ParticipantResponse {
	resp := ParticipantResponse{
		ParticipantID:  p.ParticipantID,
		Name:           p.DisplayName,
		Handle:         p.Handle,
		Gender:         p.Gender.String(),
		BirthDate:      p.BirthDate.Format(time.DateOnly),
		BirthPlace:     p.BirthPlace,
		DeliveryWindow: p.DeliveryWindow.String(),
		WatcherActive:  active,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.BirthTime != nil {
		resp.BirthTime = p.BirthTime.String()
	}
	return resp
}

// AuditListResponse wraps a participant's audit trail.
type AuditListResponse struct {
	Events []audit.Event `json:"events"`
	Total  int           `json:"total"`
}

type WatchersResponse struct {
	ParticipantIDs []id.ParticipantID `json:"participant_ids"`
	Total          int                `json:"total"`
}

type ActionResponse struct {
	ParticipantID id.ParticipantID `json:"participant_id"`
	Status        string           `json:"status"`
}
