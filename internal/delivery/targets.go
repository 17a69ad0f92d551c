package delivery

import (
	"fmt"
	"time"

	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
)

// Targets maps each delivery window to its local firing minute.
type Targets struct {
	Morning profile.TimeOfDay
	Evening profile.TimeOfDay
}

// DefaultTargets: morning delivers today's content at 06:39, evening
// delivers tomorrow's content at 15:00.
func DefaultTargets() Targets {
	return Targets{
		Morning: profile.TimeOfDay{Hour: 6, Minute: 39},
		Evening: profile.TimeOfDay{Hour: 15, Minute: 0},
	}
}

// ParseTargets reads HH:MM values, typically from configuration.
func ParseTargets(morning, evening string) (Targets, error) {
	m, err := profile.ParseTimeOfDay(morning)
	if err != nil {
		return Targets{}, fmt.Errorf("morning target %q: %w", morning, err)
	}
	e, err := profile.ParseTimeOfDay(evening)
	if err != nil {
		return Targets{}, fmt.Errorf("evening target %q: %w", evening, err)
	}
	return Targets{Morning: m, Evening: e}, nil
}

func (t Targets) For(w id.DeliveryWindow) profile.TimeOfDay {
	if w == id.DeliveryEvening {
		return t.Evening
	}
	return t.Morning
}

// ContentDay is the local date whose content a delivery at local carries:
// the same day for morning, the following day for evening.
func ContentDay(w id.DeliveryWindow, local time.Time) string {
	if w == id.DeliveryEvening {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format(time.DateOnly)
}
