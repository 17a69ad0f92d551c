package domain

import dErrors "zodiac/pkg/domain-errors"

// DeliveryWindow is when the participant wants the daily content.
// Morning delivers today's content; Evening delivers tomorrow's content.
//
// Usage: construct via ParseDeliveryWindow at trust boundaries; direct casting
// bypasses validation.
type DeliveryWindow string

const (
	DeliveryMorning DeliveryWindow = "morning"
	DeliveryEvening DeliveryWindow = "evening"
)

var validDeliveryWindows = map[DeliveryWindow]bool{
	DeliveryMorning: true,
	DeliveryEvening: true,
}

// ParseDeliveryWindow constructs a DeliveryWindow from external input.
//
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseDeliveryWindow(s string) (DeliveryWindow, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "delivery window cannot be empty")
	}
	w := DeliveryWindow(s)
	if !w.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid delivery window")
	}
	return w, nil
}

func (w DeliveryWindow) IsValid() bool {
	return validDeliveryWindows[w]
}

func (w DeliveryWindow) String() string {
	return string(w)
}
