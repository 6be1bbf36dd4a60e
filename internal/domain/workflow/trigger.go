package workflow

import "strings"

// Trigger is a human action that moves an approval out of a pending state
type Trigger string

const (
	TriggerApprove Trigger = "approve"
	TriggerDecline Trigger = "decline"
)

func (t Trigger) String() string {
	return string(t)
}

// ParseTrigger maps a submitted action to a trigger, ignoring case and whitespace
func ParseTrigger(action string) (Trigger, bool) {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(action))); t {
	case TriggerApprove, TriggerDecline:
		return t, true
	}
	return "", false
}
