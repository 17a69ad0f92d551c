package models

import (
	"time"

	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
)

// Session is the per-participant dialogue state. Form fields hold validated
// values collected so far; they are cleared once the profile is committed.
type Session struct {
	ParticipantID    id.ParticipantID  `json:"participant_id"`
	State            State             `json:"state"`
	DisplayName      string            `json:"display_name,omitempty"`
	Handle           string            `json:"handle,omitempty"`
	Gender           id.Gender         `json:"gender,omitempty"`
	BirthDate        string            `json:"birth_date,omitempty"`
	BirthPlace       string            `json:"birth_place,omitempty"`
	BirthTimeKnown   bool              `json:"birth_time_known,omitempty"`
	BirthTime        string            `json:"birth_time,omitempty"`
	DeliveryWindow   id.DeliveryWindow `json:"delivery_window,omitempty"`
	PendingEditField profile.Field     `json:"pending_edit_field,omitempty"`
	LastPromptRef    MessageRef        `json:"last_prompt_ref,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewSession returns an idle session for pid.
func NewSession(pid id.ParticipantID) Session {
	return Session{ParticipantID: pid, State: StateIdle}
}

// ResetForm clears collected form fields. State and LastPromptRef survive.
func (s *Session) ResetForm() {
	s.DisplayName = ""
	s.Gender = ""
	s.BirthDate = ""
	s.BirthPlace = ""
	s.BirthTimeKnown = false
	s.BirthTime = ""
	s.DeliveryWindow = ""
	s.PendingEditField = ""
}

// ToProfile builds the profile to commit from the collected form.
func (s Session) ToProfile(now time.Time) (profile.Profile, error) {
	birthDate, err := profile.ParseBirthDate(s.BirthDate, now)
	if err != nil {
		return profile.Profile{}, err
	}
	p := profile.Profile{
		ParticipantID:  s.ParticipantID,
		DisplayName:    s.DisplayName,
		Handle:         s.Handle,
		Gender:         s.Gender,
		BirthDate:      birthDate,
		BirthPlace:     s.BirthPlace,
		DeliveryWindow: s.DeliveryWindow,
		CreatedAt:      now,
	}
	if s.BirthTimeKnown {
		t, err := profile.ParseTimeOfDay(s.BirthTime)
		if err != nil {
			return profile.Profile{}, err
		}
		p.BirthTime = &t
	}
	return p, nil
}
