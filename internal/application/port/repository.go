package port

import (
	"context"
	"time"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// InvoiceRepository defines persistence operations for Invoice
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id int64) (*entity.Invoice, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error)
	UpdateApprovalStatus(ctx context.Context, id int64, status string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// ApprovalFilter narrows approval listings; empty Status matches all
type ApprovalFilter struct {
	Status string
	Limit  int
	Offset int
}

// ApprovalRepository defines persistence operations for Approval
type ApprovalRepository interface {
	Create(ctx context.Context, approval *entity.Approval) error
	GetByID(ctx context.Context, id int64) (*entity.Approval, error)
	GetLatestByInvoiceID(ctx context.Context, invoiceID int64) (*entity.Approval, error)
	List(ctx context.Context, filter ApprovalFilter) ([]*entity.Approval, error)
	SetLinkToken(ctx context.Context, id int64, token string) error
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	// RecordDecision applies a human decision to a pending approval.
	// It reports false when the approval was no longer pending.
	RecordDecision(ctx context.Context, id int64, status, reason, decidedBy string) (bool, error)
	ListPriorDecisions(ctx context.Context, limit int) ([]entity.PriorCase, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// SubmissionIndex looks up previously recorded submissions for duplicate detection
type SubmissionIndex interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Invoice, error)
	FindByLogicalKey(ctx context.Context, logicalKey string) (*entity.Invoice, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
