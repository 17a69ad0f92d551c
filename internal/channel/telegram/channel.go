package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"zodiac/internal/conversation/models"
	id "zodiac/pkg/domain"
	"zodiac/pkg/platform/sentinel"
)

// Channel sends prompts to private chats. Participant ids are chat ids.
type Channel struct {
	client *Client
	logger *slog.Logger
}

func NewChannel(client *Client, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{client: client, logger: logger}
}

// SendPrompt sends p as a photo with caption when it carries an image and as
// a text message otherwise.
func (c *Channel) SendPrompt(ctx context.Context, pid id.ParticipantID, p models.Prompt) (models.MessageRef, error) {
	markup := keyboard(p.Options)
	var (
		msg Message
		err error
	)
	if p.Image != "" {
		msg, err = c.client.SendPhoto(ctx, SendPhotoRequest{
			ChatID:      int64(pid),
			Photo:       p.Image,
			Caption:     p.Text,
			ReplyMarkup: markup,
		})
	} else {
		msg, err = c.client.SendMessage(ctx, SendMessageRequest{
			ChatID:      int64(pid),
			Text:        p.Text,
			ReplyMarkup: markup,
		})
	}
	if err != nil {
		return 0, err
	}
	return models.MessageRef(msg.MessageID), nil
}

// DeleteMessage removes a message. A message that is already gone is
// reported as sentinel.ErrNotFound.
func (c *Channel) DeleteMessage(ctx context.Context, pid id.ParticipantID, ref models.MessageRef) error {
	if ref.IsZero() {
		return nil
	}
	err := c.client.DeleteMessage(ctx, int64(pid), int64(ref))
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 400 &&
		strings.Contains(strings.ToLower(apiErr.Description), "not found") {
		return errors.Join(sentinel.ErrNotFound, err)
	}
	return err
}

func keyboard(rows [][]models.Option) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]InlineKeyboardButton, 0, len(row))
		for _, o := range row {
			buttons = append(buttons, InlineKeyboardButton{Text: o.Label, CallbackData: o.Choice.String()})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}
