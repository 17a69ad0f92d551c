package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
)

const (
	BirthDateLayout = "02.01.2006"
	minBirthYear    = 1900
	maxTextLength   = 128
)

var (
	birthDatePattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParseBirthDate validates a DD.MM.YYYY date. The date must exist on the
// calendar, be no earlier than 1900 and not lie after now.
//
// Errors: CodeValidation for any rejected input.
func ParseBirthDate(raw string, now time.Time) (time.Time, error) {
	m := birthDatePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date must look like DD.MM.YYYY")
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date out of range")
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31.02 into March.
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date does not exist")
	}
	if year < minBirthYear {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date too early")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.After(today) {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date is in the future")
	}
	return d, nil
}

// ParseTimeOfDay validates an HH:MM clock time.
//
// Errors: CodeValidation for malformed or out-of-range values.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return TimeOfDay{}, dErrors.New(dErrors.CodeValidation, "time must look like HH:MM")
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return TimeOfDay{}, dErrors.New(dErrors.CodeValidation, "time out of range")
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// ParseText trims free text and rejects empty or oversized values.
func ParseText(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "value cannot be empty")
	}
	if len([]rune(s)) > maxTextLength {
		return "", dErrors.New(dErrors.CodeValidation, "value too long")
	}
	return s, nil
}

// ParseFieldValue validates raw text for a single field using the same rules
// as registration. For birth_time, "-" or "unknown" clears the value.
func ParseFieldValue(field Field, raw string, now time.Time) (FieldUpdate, error) {
	u := FieldUpdate{Field: field}
	switch field {
	case FieldName, FieldBirthPlace:
		s, err := ParseText(raw)
		if err != nil {
			return FieldUpdate{}, err
		}
		u.Text = s
	case FieldGender:
		g, err := id.ParseGender(raw)
		if err != nil {
			return FieldUpdate{}, dErrors.Wrap(err, dErrors.CodeValidation, "gender must be male or female")
		}
		u.Gender = g
	case FieldBirthDate:
		d, err := ParseBirthDate(raw, now)
		if err != nil {
			return FieldUpdate{}, err
		}
		u.BirthDate = d
	case FieldBirthTime:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "-", "unknown":
			return u, nil
		}
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			return FieldUpdate{}, err
		}
		u.BirthTime = &t
	case FieldDeliveryWindow:
		w, err := id.ParseDeliveryWindow(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return FieldUpdate{}, dErrors.Wrap(err, dErrors.CodeValidation, "delivery window must be morning or evening")
		}
		u.DeliveryWindow = w
	default:
		return FieldUpdate{}, dErrors.New(dErrors.CodeValidation, "unknown field")
	}
	return u, nil
}
