package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const approvalColumns = `
	id, invoice_id, status, approver_tier, reason, decided_by, approver_email,
	model_decision, model_confidence, policy_citations, previous_case_refs, failed_checks,
	link_token, notified_at, created_at, updated_at`

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a new approval record and sets its ID
func (r *ApprovalRepository) Create(ctx context.Context, approval *entity.Approval) error {
	query := `
		INSERT INTO approvals (
			invoice_id, status, approver_tier, reason, decided_by, approver_email,
			model_decision, model_confidence, policy_citations, previous_case_refs, failed_checks,
			link_token, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	citations, err := marshalList(approval.PolicyCitations)
	if err != nil {
		return fmt.Errorf("failed to marshal policy citations: %w", err)
	}
	refs, err := marshalList(approval.PreviousCaseRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal previous case refs: %w", err)
	}
	checks, err := marshalList(approval.FailedChecks)
	if err != nil {
		return fmt.Errorf("failed to marshal failed checks: %w", err)
	}

	now := r.now().UTC()
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}
	approval.UpdatedAt = approval.CreatedAt

	var confidence interface{}
	if approval.ModelConfidence != nil {
		confidence = *approval.ModelConfidence
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		approval.InvoiceID,
		approval.Status,
		approval.ApproverTier,
		approval.Reason,
		approval.DecidedBy,
		approval.ApproverEmail,
		approval.ModelDecision,
		confidence,
		citations,
		refs,
		checks,
		approval.LinkToken,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval",
			zap.Int64("invoice_id", approval.InvoiceID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	approval.ID = id
	return nil
}

// GetByID retrieves an approval by ID
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*entity.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = ?`

	approval, err := scanApproval(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// GetLatestByInvoiceID retrieves the most recent approval for an invoice
func (r *ApprovalRepository) GetLatestByInvoiceID(ctx context.Context, invoiceID int64) (*entity.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE invoice_id = ? ORDER BY id DESC LIMIT 1`

	approval, err := scanApproval(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, invoiceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest approval",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get latest approval: %w", err)
	}
	return approval, nil
}

// List returns approvals newest first, optionally filtered by status
func (r *ApprovalRepository) List(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT ` + approvalColumns + ` FROM approvals`)
	if filter.Status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, filter.Status)
	}
	sb.WriteString(` ORDER BY id DESC LIMIT ? OFFSET ?`)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.String("status", filter.Status), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approvals: %w", err)
	}

	return approvals, nil
}

// SetLinkToken stores the signed review link token
func (r *ApprovalRepository) SetLinkToken(ctx context.Context, id int64, token string) error {
	query := `UPDATE approvals SET link_token = ?, updated_at = ? WHERE id = ?`

	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, token, r.now().UTC(), id); err != nil {
		r.logger.Error("Failed to set link token", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set link token: %w", err)
	}
	return nil
}

// MarkNotified records when the approver was notified
func (r *ApprovalRepository) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE approvals SET notified_at = ?, updated_at = ? WHERE id = ?`

	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, at.UTC(), r.now().UTC(), id); err != nil {
		r.logger.Error("Failed to mark approval notified", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark approval notified: %w", err)
	}
	return nil
}

// RecordDecision applies a human decision only while the approval is still pending
func (r *ApprovalRepository) RecordDecision(ctx context.Context, id int64, status, reason, decidedBy string) (bool, error) {
	query := `
		UPDATE approvals
		SET status = ?, reason = ?, decided_by = ?, updated_at = ?
		WHERE id = ? AND status LIKE 'pending\_%' ESCAPE '\'
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, status, reason, decidedBy, r.now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to record decision",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return false, fmt.Errorf("failed to record decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListPriorDecisions returns the most recent human decisions with their invoice facts
func (r *ApprovalRepository) ListPriorDecisions(ctx context.Context, limit int) ([]entity.PriorCase, error) {
	query := `
		SELECT a.id, a.status, a.reason,
			COALESCE(i.supplier_name, ''), i.total_amount_cents, COALESCE(i.currency, '')
		FROM approvals a
		JOIN invoices i ON i.id = a.invoice_id
		WHERE a.decided_by LIKE 'human:%'
		ORDER BY a.updated_at DESC, a.id DESC
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list prior decisions", zap.Error(err))
		return nil, fmt.Errorf("failed to list prior decisions: %w", err)
	}
	defer rows.Close()

	var cases []entity.PriorCase
	for rows.Next() {
		var (
			pc     entity.PriorCase
			amount sql.NullInt64
		)
		if err := rows.Scan(&pc.ApprovalID, &pc.Status, &pc.Reason, &pc.SupplierName, &amount, &pc.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan prior decision: %w", err)
		}
		if amount.Valid {
			pc.TotalAmount = entity.Amount(amount.Int64).String()
		}
		cases = append(cases, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prior decisions: %w", err)
	}

	return cases, nil
}

// DeleteAll removes every approval and returns the number of rows deleted
func (r *ApprovalRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM approvals`)
	if err != nil {
		r.logger.Error("Failed to delete approvals", zap.Error(err))
		return 0, fmt.Errorf("failed to delete approvals: %w", err)
	}
	return result.RowsAffected()
}

func scanApproval(row rowScanner) (*entity.Approval, error) {
	var (
		approval   entity.Approval
		confidence sql.NullFloat64
		citations  string
		refs       string
		checks     string
		notifiedAt sql.NullTime
	)

	err := row.Scan(
		&approval.ID,
		&approval.InvoiceID,
		&approval.Status,
		&approval.ApproverTier,
		&approval.Reason,
		&approval.DecidedBy,
		&approval.ApproverEmail,
		&approval.ModelDecision,
		&confidence,
		&citations,
		&refs,
		&checks,
		&approval.LinkToken,
		&notifiedAt,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if confidence.Valid {
		v := confidence.Float64
		approval.ModelConfidence = &v
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		approval.NotifiedAt = &t
	}
	if approval.PolicyCitations, err = unmarshalList(citations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy citations: %w", err)
	}
	if approval.PreviousCaseRefs, err = unmarshalList(refs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal previous case refs: %w", err)
	}
	if approval.FailedChecks, err = unmarshalList(checks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed checks: %w", err)
	}

	return &approval, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(data string) ([]string, error) {
	items := []string{}
	if data == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Verify interface compliance
var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
