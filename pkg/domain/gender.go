package domain

import (
	"strings"

	dErrors "zodiac/pkg/domain-errors"
)

// Gender is the participant's self-declared gender.
// Invariant: the value must be one of the supported constants.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

var genderAliases = map[string]Gender{
	"male":    GenderMale,
	"m":       GenderMale,
	"man":     GenderMale,
	"мужчина": GenderMale,
	"female":  GenderFemale,
	"f":       GenderFemale,
	"woman":   GenderFemale,
	"женщина": GenderFemale,
}

// ParseGender accepts the canonical values and a few common free-text
// spellings, case-insensitively.
//
// Errors: CodeInvalidInput for anything else.
func ParseGender(s string) (Gender, error) {
	g, ok := genderAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid gender")
	}
	return g, nil
}

func (g Gender) IsValid() bool {
	return g == GenderMale || g == GenderFemale
}

func (g Gender) String() string {
	return string(g)
}
