package workflow

import "context"

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	State() State

	// CanFire returns true if the trigger is configured for the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the target state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	PermittedTriggers() []Trigger
}
