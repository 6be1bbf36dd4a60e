package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns the configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a machine in the given initial state
	Build(initialState State) (StateMachine, error)
}

// StateConfiguration configures transitions out of one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	to    State
	guard GuardFunc
}

// table maps a source state and trigger to candidate transitions, tried in order
type table map[State]map[Trigger][]transition

func (t table) clone() table {
	out := make(table, len(t))
	for from, byTrigger := range t {
		copied := make(map[Trigger][]transition, len(byTrigger))
		for trigger, candidates := range byTrigger {
			copied[trigger] = append([]transition(nil), candidates...)
		}
		out[from] = copied
	}
	return out
}

type builder struct {
	rules table
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &builder{rules: make(table)}
}

// Configure panics on an unknown state; configuration is static
func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if b.rules[state] == nil {
		b.rules[state] = make(map[Trigger][]transition)
	}
	return &configuration{from: state, rules: b.rules}
}

// Build snapshots the rules so later Configure calls do not affect built machines
func (b *builder) Build(initialState State) (StateMachine, error) {
	if !initialState.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, initialState)
	}
	return &machine{current: initialState, rules: b.rules.clone()}, nil
}

type configuration struct {
	from  State
	rules table
}

func (c *configuration) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *configuration) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.rules[c.from][trigger] = append(c.rules[c.from][trigger], transition{to: toState, guard: guard})
	return c
}

type machine struct {
	current State
	rules   table
}

func (m *machine) State() State {
	return m.current
}

// CanFire does not evaluate guards
func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.rules[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := m.rules[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	byTrigger := m.rules[m.current]
	triggers := make([]Trigger, 0, len(byTrigger))
	for trigger := range byTrigger {
		triggers = append(triggers, trigger)
	}
	return triggers
}
