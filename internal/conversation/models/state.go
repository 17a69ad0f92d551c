package models

// State is the participant's position in the dialogue.
type State string

const (
	StateIdle                       State = "idle"
	StateAwaitingName               State = "awaiting_name"
	StateAwaitingGender             State = "awaiting_gender"
	StateAwaitingBirthDate          State = "awaiting_birth_date"
	StateAwaitingBirthPlace         State = "awaiting_birth_place"
	StateAwaitingBirthTimeChoice    State = "awaiting_birth_time_choice"
	StateAwaitingBirthTime          State = "awaiting_birth_time"
	StateAwaitingDeliveryWindow     State = "awaiting_delivery_window"
	StateAwaitingConfirmation       State = "awaiting_confirmation"
	StateScheduled                  State = "scheduled"
	StateAwaitingEditSelection      State = "awaiting_edit_selection"
	StateAwaitingEditValue          State = "awaiting_edit_value"
	StateAwaitingEditDeliveryWindow State = "awaiting_edit_delivery_window"
)

// AllStates lists every state the dialogue can be in.
var AllStates = []State{
	StateIdle,
	StateAwaitingName,
	StateAwaitingGender,
	StateAwaitingBirthDate,
	StateAwaitingBirthPlace,
	StateAwaitingBirthTimeChoice,
	StateAwaitingBirthTime,
	StateAwaitingDeliveryWindow,
	StateAwaitingConfirmation,
	StateScheduled,
	StateAwaitingEditSelection,
	StateAwaitingEditValue,
	StateAwaitingEditDeliveryWindow,
}

func (s State) String() string {
	return string(s)
}

// Registering reports whether s belongs to the initial registration form.
func (s State) Registering() bool {
	switch s {
	case StateAwaitingName, StateAwaitingGender, StateAwaitingBirthDate,
		StateAwaitingBirthPlace, StateAwaitingBirthTimeChoice, StateAwaitingBirthTime,
		StateAwaitingDeliveryWindow, StateAwaitingConfirmation:
		return true
	}
	return false
}
