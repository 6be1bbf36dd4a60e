package workflow

import "github.com/garyjia/invoice-approval/internal/domain/entity"

// State is an approval status in its lifecycle
type State string

const (
	StatePendingManager        State = State(entity.OutcomePendingManager)
	StatePendingFinanceManager State = State(entity.OutcomePendingFinanceManager)
	StatePendingExecutive      State = State(entity.OutcomePendingExecutive)
	StateAutoApproved          State = State(entity.OutcomeAutoApproved)
	StateDeclined              State = State(entity.OutcomeDeclined)
	StateApproved              State = entity.StatusApproved
)

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	switch s {
	case StateAutoApproved, StateApproved, StateDeclined:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known approval status
func (s State) IsValid() bool {
	switch s {
	case StatePendingManager, StatePendingFinanceManager, StatePendingExecutive:
		return true
	}
	return s.IsTerminal()
}
