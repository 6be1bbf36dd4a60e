package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// ApproverDirectory maps approver tiers to people
type ApproverDirectory struct {
	Tiers map[entity.ApproverTier]entity.Approver
	// Fallback receives review requests for tiers without a configured approver
	Fallback entity.Approver
	// Audit receives notices for declined invoices; optional
	Audit entity.Approver
}

// For returns the approver responsible for tier
func (d ApproverDirectory) For(tier entity.ApproverTier) entity.Approver {
	a, ok := d.Tiers[tier]
	if !ok || a.Email == "" {
		a.Email = d.Fallback.Email
		if a.Name == "" {
			a.Name = d.Fallback.Name
		}
	}
	if a.Name == "" {
		a.Name = titleCase(tier.Label())
	}
	return a
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// NotificationService delivers review requests and audit notices
type NotificationService interface {
	NotifyReview(ctx context.Context, approval *entity.Approval, invoice *entity.Invoice, decision entity.RoutingDecision) error
	NotifyAudit(ctx context.Context, approval *entity.Approval, invoice *entity.Invoice, decision entity.RoutingDecision) error
	ApproverFor(tier entity.ApproverTier) entity.Approver
	ReviewURL(approval *entity.Approval) string
}

type notificationServiceImpl struct {
	approvalRepo port.ApprovalRepository
	notifier     port.Notifier
	approvers    ApproverDirectory
	baseURL      string
	logger       Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	approvalRepo port.ApprovalRepository,
	notifier port.Notifier,
	approvers ApproverDirectory,
	baseURL string,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		approvalRepo: approvalRepo,
		notifier:     notifier,
		approvers:    approvers,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
	}
}

// ApproverFor returns the configured approver of tier
func (s *notificationServiceImpl) ApproverFor(tier entity.ApproverTier) entity.Approver {
	return s.approvers.For(tier)
}

// ReviewURL builds the link an approver follows to decide
func (s *notificationServiceImpl) ReviewURL(approval *entity.Approval) string {
	return fmt.Sprintf("%s/approvals/%d/review?token=%s", s.baseURL, approval.ID, url.QueryEscape(approval.LinkToken))
}

// NotifyReview asks the tier approver to review a pending approval
func (s *notificationServiceImpl) NotifyReview(ctx context.Context, approval *entity.Approval, invoice *entity.Invoice, decision entity.RoutingDecision) error {
	approver := s.approvers.For(decision.Tier())
	if approver.Email == "" {
		s.logger.Info("No approver address configured, review request not sent",
			"approval_id", approval.ID,
			"tier", decision.Tier(),
		)
		return nil
	}

	req := &port.ReviewRequest{
		Approval:  approval,
		Invoice:   invoice,
		Decision:  decision,
		Approver:  approver,
		ReviewURL: s.ReviewURL(approval),
	}
	return s.send(ctx, req)
}

// NotifyAudit sends a declined invoice to the audit mailbox when one is configured
func (s *notificationServiceImpl) NotifyAudit(ctx context.Context, approval *entity.Approval, invoice *entity.Invoice, decision entity.RoutingDecision) error {
	if s.approvers.Audit.Email == "" {
		s.logger.Info("Invoice declined, no audit address configured", "approval_id", approval.ID, "invoice_id", invoice.ID)
		return nil
	}

	audit := s.approvers.Audit
	if audit.Name == "" {
		audit.Name = "Audit"
	}
	req := &port.ReviewRequest{
		Approval:  approval,
		Invoice:   invoice,
		Decision:  decision,
		Approver:  audit,
		ReviewURL: s.ReviewURL(approval),
	}
	return s.send(ctx, req)
}

func (s *notificationServiceImpl) send(ctx context.Context, req *port.ReviewRequest) error {
	s.logger.Info("Sending review notification",
		"approval_id", req.Approval.ID,
		"outcome", req.Decision.Outcome,
		"to", req.Approver.Email,
	)

	if err := s.notifier.NotifyApprover(ctx, req); err != nil {
		s.logger.Error("Failed to send review notification", "error", err, "approval_id", req.Approval.ID)
		return fmt.Errorf("notify approver: %w", err)
	}

	now := time.Now()
	if err := s.approvalRepo.MarkNotified(ctx, req.Approval.ID, now); err != nil {
		s.logger.Error("Failed to mark approval notified", "error", err, "approval_id", req.Approval.ID)
		return fmt.Errorf("mark notified: %w", err)
	}
	req.Approval.NotifiedAt = &now

	s.logger.Info("Review notification sent", "approval_id", req.Approval.ID, "to", req.Approver.Email)
	return nil
}
