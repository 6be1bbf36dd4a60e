package workflow

import "sync"

// approvalLifecycle lets an approver decide each pending tier once.
// Auto-approved, declined and human-decided approvals are final.
var approvalLifecycle = sync.OnceValue(func() StateMachineBuilder {
	b := NewBuilder()
	for _, pending := range []State{StatePendingManager, StatePendingFinanceManager, StatePendingExecutive} {
		b.Configure(pending).
			Permit(TriggerApprove, StateApproved).
			Permit(TriggerDecline, StateDeclined)
	}
	return b
})

// ForApproval returns a lifecycle machine positioned at the given approval status
func ForApproval(status string) (StateMachine, error) {
	return approvalLifecycle().Build(State(status))
}
