// Package onboarding walks a conversation through collecting the configured
// fields one at a time, persisting progress in user metadata so completeness
// survives process restarts.
package onboarding

import "strings"

// State of a user's onboarding session.
type State string

const (
	StateNotStarted State = "not_started"
	StateCollecting State = "collecting"
	StateComplete   State = "complete"
)

// TriggerPhrase is the literal control string that deterministically
// (re)starts onboarding, overriding any completed state.
const TriggerPhrase = "start onboarding"

// IsTrigger reports whether text is the explicit restart phrase.
func IsTrigger(text string) bool {
	return strings.ToLower(strings.TrimSpace(text)) == TriggerPhrase
}

// Result is the outcome of advancing the state machine by one user message.
type Result struct {
	State State
	// FieldID is the field now being collected, empty unless collecting.
	FieldID string
	// Reply is the outbound message to send to the user.
	Reply string
}
