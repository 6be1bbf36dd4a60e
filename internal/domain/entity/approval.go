package entity

import "time"

// DecidedBy values
const (
	DecidedByAuto        = "auto"
	DecidedByHumanPrefix = "human:"
)

// Human decision statuses; they supersede the routing outcome
const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
)

// Approval is the persisted routing decision for an invoice and any later human override
type Approval struct {
	ID               int64      `json:"id"`
	InvoiceID        int64      `json:"invoice_id"`
	Status           string     `json:"status"`
	ApproverTier     string     `json:"approver_tier,omitempty"`
	Reason           string     `json:"reason"`
	DecidedBy        string     `json:"decided_by"`
	ApproverEmail    string     `json:"approver_email,omitempty"`
	ModelDecision    string     `json:"model_decision,omitempty"`
	ModelConfidence  *float64   `json:"model_confidence,omitempty"`
	PolicyCitations  []string   `json:"policy_citations"`
	PreviousCaseRefs []string   `json:"previous_case_refs"`
	FailedChecks     []string   `json:"failed_checks,omitempty"`
	LinkToken        string     `json:"-"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AwaitingHuman reports whether the approval can still be decided by an approver
func (a *Approval) AwaitingHuman() bool {
	return Outcome(a.Status).IsPending()
}

// PriorCase is a past human decision fed back to the assessor as precedent
type PriorCase struct {
	ApprovalID   int64  `json:"approval_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	SupplierName string `json:"supplier_name"`
	TotalAmount  string `json:"total_amount"`
	Currency     string `json:"currency"`
}

// Ref returns the identifier recorded in an opinion's prior case references
func (p PriorCase) Ref() string {
	return "approval:" + itoa(p.ApprovalID)
}

// Approver is a person who reviews invoices routed to a tier
type Approver struct {
	Name  string `json:"name" mapstructure:"name"`
	Email string `json:"email" mapstructure:"email"`
}
