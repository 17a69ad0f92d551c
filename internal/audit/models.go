package audit

import (
	"time"

	id "zodiac/pkg/domain"
)

// EventType names what happened.
type EventType string

const (
	EventParticipantRegistered        EventType = "participant_registered"
	EventParticipantAlreadyRegistered EventType = "participant_already_registered"
	EventProfileFieldUpdated          EventType = "profile_field_updated"
	EventDeliveryTriggered            EventType = "delivery_triggered"
	EventDeliveryFailed               EventType = "delivery_failed"
)

// Event is emitted from domain logic to capture key actions. It stays
// transport-agnostic so sinks can fan out.
type Event struct {
	ID            string           `json:"id"`
	Type          EventType        `json:"type"`
	ParticipantID id.ParticipantID `json:"participant_id"`
	Field         string           `json:"field,omitempty"`
	Detail        string           `json:"detail,omitempty"`
	RequestID     string           `json:"request_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
