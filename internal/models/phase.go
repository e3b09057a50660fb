package models

// Phase is the derived onboarding state of a conversation. It is a pure
// function of the stored visitor identity fields, which makes it
// recoverable after a restart without replaying message history.
type Phase string

const (
	PhaseNeedName  Phase = "need-name"
	PhaseNeedEmail Phase = "need-email"
	PhaseActive    Phase = "active"
)

// PhaseOf derives the onboarding phase from the visitor's stored name and
// email. Onboarding only ever progresses forward: once both fields are set
// the phase is permanently active.
func PhaseOf(name, email string) Phase {
	switch {
	case name == "":
		return PhaseNeedName
	case email == "":
		return PhaseNeedEmail
	default:
		return PhaseActive
	}
}
