package port

import (
	"context"
	"io"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// TextExtractor pulls plain text out of a PDF document
type TextExtractor interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
}

// ExtractionProvider turns a source document into structured invoice fields.
// Unreadable or empty documents fail with *entity.ExtractionError.
type ExtractionProvider interface {
	Extract(ctx context.Context, document []byte) (*entity.ExtractionResult, error)
}

// ComplianceAssessor produces a policy opinion for an extraction.
// Unusable upstream answers fail with *entity.AssessmentError.
type ComplianceAssessor interface {
	Assess(ctx context.Context, extraction *entity.ExtractionResult, policyText string, priorCases []entity.PriorCase) (*entity.ComplianceOpinion, error)
}

// ReviewRequest carries everything a notifier needs to ask a person to act on an approval
type ReviewRequest struct {
	Approval  *entity.Approval
	Invoice   *entity.Invoice
	Decision  entity.RoutingDecision
	Approver  entity.Approver
	ReviewURL string
}

// Notifier delivers review requests to approvers
type Notifier interface {
	NotifyApprover(ctx context.Context, req *ReviewRequest) error
}

// LinkSigner issues and checks the tokens embedded in review links
type LinkSigner interface {
	Sign(approvalID int64) (string, error)
	Verify(token string, approvalID int64) error
}

// InvoiceExporter writes invoices with their latest approval as a spreadsheet
type InvoiceExporter interface {
	Export(ctx context.Context, rows []ExportRow, w io.Writer) error
}

// ExportRow is one line of an invoice export
type ExportRow struct {
	Invoice  *entity.Invoice
	Approval *entity.Approval
}
