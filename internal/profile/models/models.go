package models

import (
	"fmt"
	"time"

	id "zodiac/pkg/domain"
)

// Profile is the durable record of a registered participant.
type Profile struct {
	ParticipantID  id.ParticipantID
	DisplayName    string
	Handle         string
	Gender         id.Gender
	BirthDate      time.Time
	BirthPlace     string
	BirthTime      *TimeOfDay // nil when unknown
	DeliveryWindow id.DeliveryWindow
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BirthTimeKnown reports whether the participant supplied a birth time.
func (p Profile) BirthTimeKnown() bool {
	return p.BirthTime != nil
}

// TimeOfDay is a wall-clock hour and minute with no date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Matches reports whether t falls inside this minute.
func (t TimeOfDay) Matches(at time.Time) bool {
	return at.Hour() == t.Hour && at.Minute() == t.Minute
}

// Field names a single editable profile attribute.
type Field string

const (
	FieldName           Field = "name"
	FieldGender         Field = "gender"
	FieldBirthDate      Field = "birth_date"
	FieldBirthPlace     Field = "birth_place"
	FieldBirthTime      Field = "birth_time"
	FieldDeliveryWindow Field = "delivery_window"
)

var editableFields = map[Field]bool{
	FieldName:           true,
	FieldGender:         true,
	FieldBirthDate:      true,
	FieldBirthPlace:     true,
	FieldBirthTime:      true,
	FieldDeliveryWindow: true,
}

func (f Field) IsValid() bool {
	return editableFields[f]
}

func (f Field) String() string {
	return string(f)
}

// FieldUpdate carries one validated field value. Only the member matching
// Field is meaningful.
type FieldUpdate struct {
	Field          Field
	Text           string
	Gender         id.Gender
	BirthDate      time.Time
	BirthTime      *TimeOfDay
	DeliveryWindow id.DeliveryWindow
}

// Apply writes the update into p. Unknown fields leave p untouched.
func (u FieldUpdate) Apply(p *Profile) {
	switch u.Field {
	case FieldName:
		p.DisplayName = u.Text
	case FieldGender:
		p.Gender = u.Gender
	case FieldBirthDate:
		p.BirthDate = u.BirthDate
	case FieldBirthPlace:
		p.BirthPlace = u.Text
	case FieldBirthTime:
		p.BirthTime = u.BirthTime
	case FieldDeliveryWindow:
		p.DeliveryWindow = u.DeliveryWindow
	}
}
