package prompts

import (
	"time"

	"zodiac/internal/conversation/models"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
)

// Summary is the template data for prompts that show a participant's details.
type Summary struct {
	Name           string
	Gender         string
	BirthDate      string
	BirthPlace     string
	BirthTime      string
	DeliveryWindow string
}

func SummaryFromSession(s models.Session) Summary {
	bt := "unknown"
	if s.BirthTimeKnown {
		bt = s.BirthTime
	}
	return Summary{
		Name:           s.DisplayName,
		Gender:         genderLabel(s.Gender),
		BirthDate:      s.BirthDate,
		BirthPlace:     s.BirthPlace,
		BirthTime:      bt,
		DeliveryWindow: WindowLabel(s.DeliveryWindow),
	}
}

func SummaryFromProfile(p profile.Profile) Summary {
	bt := "unknown"
	if p.BirthTime != nil {
		bt = p.BirthTime.String()
	}
	return Summary{
		Name:           p.DisplayName,
		Gender:         genderLabel(p.Gender),
		BirthDate:      p.BirthDate.Format(profile.BirthDateLayout),
		BirthPlace:     p.BirthPlace,
		BirthTime:      bt,
		DeliveryWindow: WindowLabel(p.DeliveryWindow),
	}
}

// Notice is the template data for the daily notice.
type Notice struct {
	Name     string
	Greeting string
	ForDate  string
}

// NoticeFor builds the daily notice data. Evening deliveries announce
// tomorrow's content.
func NoticeFor(p profile.Profile, at time.Time) Notice {
	n := Notice{Name: p.DisplayName, Greeting: "morning", ForDate: at.Format(profile.BirthDateLayout)}
	if p.DeliveryWindow == id.DeliveryEvening {
		n.Greeting = "evening"
		n.ForDate = at.AddDate(0, 0, 1).Format(profile.BirthDateLayout)
	}
	return n
}

func genderLabel(g id.Gender) string {
	switch g {
	case id.GenderMale:
		return "male"
	case id.GenderFemale:
		return "female"
	}
	return "-"
}

// WindowLabel describes a delivery window in prose.
func WindowLabel(w id.DeliveryWindow) string {
	switch w {
	case id.DeliveryMorning:
		return "every morning with today's forecast"
	case id.DeliveryEvening:
		return "every evening with tomorrow's forecast"
	}
	return "-"
}
