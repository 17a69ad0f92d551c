package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "zodiac/pkg/domain-errors"
)

// ParticipantID identifies a participant across the messaging channel, the
// profile store and the scheduler. It is the chat identity assigned by the
// channel and is always positive.
type ParticipantID int64

// ParseParticipantID parses an identifier arriving from outside the process
// (admin URLs, stored keys).
//
// Errors: CodeInvalidInput when the value is empty, non-numeric, or not positive.
func ParseParticipantID(s string) (ParticipantID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "participant id cannot be empty")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "participant id must be numeric")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "participant id must be positive")
	}
	return ParticipantID(n), nil
}

func (p ParticipantID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

func (p ParticipantID) IsZero() bool {
	return p == 0
}

// EventID identifies an audit event.
type EventID uuid.UUID

func NewEventID() EventID {
	return EventID(uuid.New())
}

func (e EventID) String() string {
	return uuid.UUID(e).String()
}
