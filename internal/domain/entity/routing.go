package entity

import "time"

// OpinionDecision is the verdict of the upstream compliance assessor
type OpinionDecision string

const (
	OpinionApproved    OpinionDecision = "approved"
	OpinionDeclined    OpinionDecision = "declined"
	OpinionNeedsReview OpinionDecision = "needs_review"
)

// Valid reports whether d is one of the known decisions
func (d OpinionDecision) Valid() bool {
	switch d {
	case OpinionApproved, OpinionDeclined, OpinionNeedsReview:
		return true
	}
	return false
}

// ComplianceOpinion is the LLM policy analysis consumed by the routing engine
type ComplianceOpinion struct {
	Decision      OpinionDecision `json:"decision"`
	Reasoning     string          `json:"reasoning"`
	Citations     []string        `json:"citations"`
	Confidence    *float64        `json:"confidence,omitempty"`
	PriorCaseRefs []string        `json:"prior_case_refs"`

	// Fault is set when no usable opinion could be obtained from the assessor
	Fault string `json:"fault,omitempty"`
}

// UnavailableOpinion builds the placeholder opinion used when assessment failed
func UnavailableOpinion(err error) *ComplianceOpinion {
	return &ComplianceOpinion{
		Decision: OpinionNeedsReview,
		Fault:    err.Error(),
	}
}

// Outcome is the final routing result for an invoice
type Outcome string

const (
	OutcomeAutoApproved          Outcome = "auto_approved"
	OutcomePendingManager        Outcome = "pending_manager"
	OutcomePendingFinanceManager Outcome = "pending_finance_manager"
	OutcomePendingExecutive      Outcome = "pending_executive"
	OutcomeDeclined              Outcome = "declined"
)

// IsPending reports whether the outcome waits on a human approver
func (o Outcome) IsPending() bool {
	switch o {
	case OutcomePendingManager, OutcomePendingFinanceManager, OutcomePendingExecutive:
		return true
	}
	return false
}

// ApproverTier is a human approval role keyed by amount band
type ApproverTier string

const (
	TierManager        ApproverTier = "manager"
	TierFinanceManager ApproverTier = "finance_manager"
	TierExecutive      ApproverTier = "executive"
)

// Rank orders tiers from least to most senior; unknown tiers rank 0
func (t ApproverTier) Rank() int {
	switch t {
	case TierManager:
		return 1
	case TierFinanceManager:
		return 2
	case TierExecutive:
		return 3
	}
	return 0
}

// Valid reports whether t is a known tier
func (t ApproverTier) Valid() bool {
	return t.Rank() > 0
}

// Label returns a human readable tier name
func (t ApproverTier) Label() string {
	switch t {
	case TierFinanceManager:
		return "finance manager"
	default:
		return string(t)
	}
}

// PendingOutcome maps a tier to its pending outcome
func (t ApproverTier) PendingOutcome() Outcome {
	switch t {
	case TierManager:
		return OutcomePendingManager
	case TierFinanceManager:
		return OutcomePendingFinanceManager
	default:
		return OutcomePendingExecutive
	}
}

// Check names a step of the compliance evaluation
type Check string

const (
	CheckOpinionIntegrity  Check = "opinion_integrity"
	CheckRequiredFields    Check = "required_fields"
	CheckDisallowedContent Check = "disallowed_content"
	CheckOpinionDecision   Check = "opinion_decision"
	CheckRecency           Check = "recency"
	CheckCeiling           Check = "ceiling"
)

// RoutingDecision is the output of the compliance engine
type RoutingDecision struct {
	Outcome      Outcome       `json:"outcome"`
	ApproverTier *ApproverTier `json:"approver_tier,omitempty"`
	Reason       string        `json:"reason"`
	FailedChecks []Check       `json:"failed_checks,omitempty"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
}

// Tier returns the approver tier or "" when none is assigned
func (d RoutingDecision) Tier() ApproverTier {
	if d.ApproverTier == nil {
		return ""
	}
	return *d.ApproverTier
}
