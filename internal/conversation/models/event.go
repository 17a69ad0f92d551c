package models

import (
	"strconv"
	"time"

	id "zodiac/pkg/domain"
)

// EventKind classifies an inbound event.
type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventChoice  EventKind = "choice"
)

// Commands understood in every state.
const (
	CommandStart   = "start"
	CommandHelp    = "help"
	CommandChange  = "change"
	CommandSend    = "send"
	CommandInfo    = "info"
	CommandGetInfo = "get_info"
)

// Choice is an opaque token attached to a selectable prompt option.
type Choice string

const (
	ChoiceGenderMale         Choice = "gender_male"
	ChoiceGenderFemale       Choice = "gender_female"
	ChoiceBirthTimeKnown     Choice = "birthtime_known"
	ChoiceBirthTimeUnknown   Choice = "birthtime_unknown"
	ChoiceWindowMorning      Choice = "window_morning"
	ChoiceWindowEvening      Choice = "window_evening"
	ChoiceConfirmAgree       Choice = "confirm_agree"
	ChoiceConfirmDisagree    Choice = "confirm_disagree"
	ChoiceEditName           Choice = "edit_name"
	ChoiceEditGender         Choice = "edit_gender"
	ChoiceEditBirthDate      Choice = "edit_birth_date"
	ChoiceEditBirthPlace     Choice = "edit_birth_place"
	ChoiceEditBirthTime      Choice = "edit_birth_time"
	ChoiceEditDeliveryWindow Choice = "edit_delivery_window"
)

func (c Choice) String() string {
	return string(c)
}

// MessageRef identifies a message in the participant's chat. Zero means none.
type MessageRef int64

func (r MessageRef) IsZero() bool {
	return r == 0
}

func (r MessageRef) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// Event is the single inbound event shape produced by channel adapters.
// Value holds the command name without the slash, the free text, or the
// choice token depending on Kind.
type Event struct {
	ParticipantID id.ParticipantID
	Handle        string
	Kind          EventKind
	Value         string
	MessageRef    MessageRef
	ReceivedAt    time.Time
}

func (e Event) Choice() Choice {
	return Choice(e.Value)
}
