package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/policy"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Human decision actions accepted by Decide
const (
	ActionApprove = string(workflow.TriggerApprove)
	ActionDecline = string(workflow.TriggerDecline)
)

// RoutingResult is the outcome of routing one invoice
type RoutingResult struct {
	Approval *entity.Approval          `json:"approval"`
	Decision entity.RoutingDecision    `json:"decision"`
	Opinion  *entity.ComplianceOpinion `json:"opinion"`
}

// ReviewView is what an approver sees behind a review link
type ReviewView struct {
	Approval *entity.Approval
	Invoice  *entity.Invoice
	Token    string
	// Actions lists the decisions still open to the approver, empty once decided
	Actions []string
}

// ApprovalService routes invoices through the compliance engine and records human decisions
type ApprovalService interface {
	Route(ctx context.Context, invoice *entity.Invoice, opts ...RouteOption) (*RoutingResult, error)
	Start(ctx context.Context, invoiceID int64) (*RoutingResult, error)
	List(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error)
	Get(ctx context.Context, id int64) (*entity.Approval, error)
	Review(ctx context.Context, id int64, token string) (*ReviewView, error)
	Decide(ctx context.Context, id int64, token, action, reason string) (*entity.Approval, error)
}

type routeOptions struct {
	notes []string
	hold  string
}

// RouteOption adjusts how one invoice is routed
type RouteOption func(*routeOptions)

// WithNotes appends notes to the stored reason
func WithNotes(notes ...string) RouteOption {
	return func(o *routeOptions) {
		o.notes = append(o.notes, notes...)
	}
}

// HoldForReview keeps the invoice away from auto approval. An invoice the
// policy would auto approve goes to the approver tier for its amount instead.
func HoldForReview(reason string) RouteOption {
	return func(o *routeOptions) {
		o.hold = strings.TrimSpace(reason)
	}
}

// ApprovalDependencies groups the collaborators of ApprovalService
type ApprovalDependencies struct {
	InvoiceRepo   port.InvoiceRepository
	ApprovalRepo  port.ApprovalRepository
	TxManager     port.TransactionManager
	Assessor      port.ComplianceAssessor
	Engine        *policy.Engine
	Policy        *policy.Policy
	PolicyText    string
	Notifications NotificationService
	Signer        port.LinkSigner
	Logger        Logger
}

type approvalServiceImpl struct {
	ApprovalDependencies
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(deps ApprovalDependencies) ApprovalService {
	if deps.Engine == nil {
		deps.Engine = policy.NewEngine()
	}
	return &approvalServiceImpl{ApprovalDependencies: deps}
}

// Route assesses the invoice, evaluates the policy, persists the decision and notifies.
func (s *approvalServiceImpl) Route(ctx context.Context, invoice *entity.Invoice, opts ...RouteOption) (*RoutingResult, error) {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	priorCases, err := s.ApprovalRepo.ListPriorDecisions(ctx, entity.PriorCaseLimit)
	if err != nil {
		s.Logger.Error("Failed to load prior decisions", "error", err, "invoice_id", invoice.ID)
		priorCases = nil
	}

	opinion := s.assess(ctx, invoice, priorCases)
	decision := s.Engine.Evaluate(&invoice.Extraction, opinion, s.Policy)
	notes := o.notes
	if o.hold != "" {
		if decision.Outcome == entity.OutcomeAutoApproved {
			decision = s.escalate(decision, &invoice.Extraction, o.hold)
			s.Logger.Info("Auto approval withheld", "invoice_id", invoice.ID, "reason", o.hold)
		} else {
			notes = append([]string{o.hold}, notes...)
		}
	}

	approval := &entity.Approval{
		InvoiceID:        invoice.ID,
		Status:           string(decision.Outcome),
		ApproverTier:     string(decision.Tier()),
		Reason:           withNotes(decision.Reason, notes),
		DecidedBy:        entity.DecidedByAuto,
		ModelDecision:    string(opinion.Decision),
		ModelConfidence:  opinion.Confidence,
		PolicyCitations:  nonNil(opinion.Citations),
		PreviousCaseRefs: nonNil(opinion.PriorCaseRefs),
		CreatedAt:        decision.EvaluatedAt,
		UpdatedAt:        decision.EvaluatedAt,
	}
	for _, c := range decision.FailedChecks {
		approval.FailedChecks = append(approval.FailedChecks, string(c))
	}
	if decision.ApproverTier != nil {
		approval.ApproverEmail = s.Notifications.ApproverFor(decision.Tier()).Email
	}

	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ApprovalRepo.Create(txCtx, approval); err != nil {
			return fmt.Errorf("create approval: %w", err)
		}
		if err := s.InvoiceRepo.UpdateApprovalStatus(txCtx, invoice.ID, approval.Status); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Failed to persist routing decision", "error", err, "invoice_id", invoice.ID)
		return nil, err
	}
	invoice.ApprovalStatus = approval.Status

	token, err := s.Signer.Sign(approval.ID)
	if err != nil {
		return nil, fmt.Errorf("sign review link: %w", err)
	}
	if err := s.ApprovalRepo.SetLinkToken(ctx, approval.ID, token); err != nil {
		return nil, fmt.Errorf("store review link: %w", err)
	}
	approval.LinkToken = token

	s.Logger.Info("Invoice routed",
		"invoice_id", invoice.ID,
		"approval_id", approval.ID,
		"outcome", decision.Outcome,
		"tier", decision.Tier(),
		"failed_checks", approval.FailedChecks,
	)

	switch {
	case decision.Outcome.IsPending():
		if err := s.Notifications.NotifyReview(ctx, approval, invoice, decision); err != nil {
			s.Logger.Error("Review request not delivered", "error", err, "approval_id", approval.ID)
		}
	case decision.Outcome == entity.OutcomeDeclined:
		if err := s.Notifications.NotifyAudit(ctx, approval, invoice, decision); err != nil {
			s.Logger.Error("Audit notice not delivered", "error", err, "approval_id", approval.ID)
		}
	}

	return &RoutingResult{Approval: approval, Decision: decision, Opinion: opinion}, nil
}

// escalate turns an auto approval into a review by the tier the amount calls for
func (s *approvalServiceImpl) escalate(decision entity.RoutingDecision, x *entity.ExtractionResult, reason string) entity.RoutingDecision {
	tier := s.Policy.HighestTier()
	if x.TotalAmount != nil {
		tier = s.Policy.TierFor(*x.TotalAmount)
	}
	decision.Outcome = tier.PendingOutcome()
	decision.ApproverTier = &tier
	decision.Reason = "held for review: " + reason
	return decision
}

// assess never fails; an unusable assessor answer becomes a faulted opinion
func (s *approvalServiceImpl) assess(ctx context.Context, invoice *entity.Invoice, priorCases []entity.PriorCase) *entity.ComplianceOpinion {
	opinion, err := s.Assessor.Assess(ctx, &invoice.Extraction, s.PolicyText, priorCases)
	if err == nil && opinion != nil {
		return opinion
	}
	if err == nil {
		err = &entity.AssessmentError{Reason: "assessor returned no opinion"}
	}

	var assessErr *entity.AssessmentError
	if errors.As(err, &assessErr) {
		s.Logger.Error("Compliance assessment unavailable", "error", err, "invoice_id", invoice.ID)
	} else {
		s.Logger.Error("Compliance assessment failed", "error", err, "invoice_id", invoice.ID)
	}
	return entity.UnavailableOpinion(err)
}

// Start re-runs routing for a stored invoice
func (s *approvalServiceImpl) Start(ctx context.Context, invoiceID int64) (*RoutingResult, error) {
	invoice, err := s.InvoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		s.Logger.Error("Failed to get invoice", "error", err, "invoice_id", invoiceID)
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if invoice == nil {
		return nil, ErrNotFound
	}
	if invoice.DuplicateOf != nil {
		return s.Route(ctx, invoice, HoldForReview(fmt.Sprintf("possible duplicate of invoice %d", *invoice.DuplicateOf)))
	}
	return s.Route(ctx, invoice)
}

// List returns approvals newest first
func (s *approvalServiceImpl) List(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error) {
	approvals, err := s.ApprovalRepo.List(ctx, filter)
	if err != nil {
		s.Logger.Error("Failed to list approvals", "error", err, "status", filter.Status)
		return nil, err
	}
	return approvals, nil
}

// Get retrieves an approval by ID
func (s *approvalServiceImpl) Get(ctx context.Context, id int64) (*entity.Approval, error) {
	approval, err := s.ApprovalRepo.GetByID(ctx, id)
	if err != nil {
		s.Logger.Error("Failed to get approval", "error", err, "id", id)
		return nil, err
	}
	if approval == nil {
		return nil, ErrNotFound
	}
	return approval, nil
}

// Review loads an approval and its invoice for the holder of a valid review link
func (s *approvalServiceImpl) Review(ctx context.Context, id int64, token string) (*ReviewView, error) {
	approval, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}

	invoice, err := s.InvoiceRepo.GetByID(ctx, approval.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if invoice == nil {
		return nil, ErrNotFound
	}
	return &ReviewView{Approval: approval, Invoice: invoice, Token: token, Actions: openActions(approval)}, nil
}

func openActions(approval *entity.Approval) []string {
	lifecycle, err := workflow.ForApproval(approval.Status)
	if err != nil || lifecycle.State().IsTerminal() {
		return nil
	}
	actions := make([]string, 0, 2)
	for _, t := range lifecycle.PermittedTriggers() {
		actions = append(actions, t.String())
	}
	sort.Strings(actions)
	return actions
}

// Decide records a human approve or decline on a pending approval
func (s *approvalServiceImpl) Decide(ctx context.Context, id int64, token, action, reason string) (*entity.Approval, error) {
	approval, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}

	trigger, ok := workflow.ParseTrigger(action)
	if !ok {
		return nil, ErrInvalidAction
	}

	lifecycle, err := workflow.ForApproval(approval.Status)
	if err != nil {
		return nil, fmt.Errorf("approval %d: %w", id, err)
	}
	if !lifecycle.CanFire(trigger) {
		return approval, ErrAlreadyDecided
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	if err := lifecycle.Fire(ctx, trigger); err != nil {
		return nil, fmt.Errorf("approval %d: %w", id, err)
	}
	status := lifecycle.State().String()

	reviewer := approval.ApproverEmail
	if reviewer == "" {
		reviewer = "approver"
	}
	decidedBy := entity.DecidedByHumanPrefix + reviewer

	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		updated, err := s.ApprovalRepo.RecordDecision(txCtx, id, status, reason, decidedBy)
		if err != nil {
			return fmt.Errorf("record decision: %w", err)
		}
		if !updated {
			return ErrAlreadyDecided
		}
		if err := s.InvoiceRepo.UpdateApprovalStatus(txCtx, approval.InvoiceID, status); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyDecided) {
			return approval, err
		}
		s.Logger.Error("Failed to record decision", "error", err, "approval_id", id)
		return nil, err
	}

	approval.Status = status
	approval.Reason = reason
	approval.DecidedBy = decidedBy

	s.Logger.Info("Human decision recorded", "approval_id", id, "status", status, "decided_by", decidedBy)
	return approval, nil
}

func (s *approvalServiceImpl) authorize(ctx context.Context, id int64, token string) (*entity.Approval, error) {
	approval, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Signer.Verify(token, id); err != nil {
		s.Logger.Info("Rejected review link", "approval_id", id, "error", err)
		return nil, ErrInvalidToken
	}
	return approval, nil
}

func withNotes(reason string, notes []string) string {
	parts := []string{reason}
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "\n\n")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
