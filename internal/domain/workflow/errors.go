package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not permitted in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned for an unknown approval status
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guarded transition refused the trigger
	ErrGuardFailed = errors.New("guard condition failed")
)
