package models

import (
	"context"

	id "zodiac/pkg/domain"
)

// Option is one selectable answer rendered under a prompt.
type Option struct {
	Label  string
	Choice Choice
}

// Prompt is an outbound message. Options are laid out in rows.
type Prompt struct {
	Key     string
	Text    string
	Image   string
	Options [][]Option
}

// Channel is the outbound side of the messaging transport.
type Channel interface {
	SendPrompt(ctx context.Context, pid id.ParticipantID, p Prompt) (MessageRef, error)
	DeleteMessage(ctx context.Context, pid id.ParticipantID, ref MessageRef) error
}
