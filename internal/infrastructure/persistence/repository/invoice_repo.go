package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

const invoiceColumns = `
	id, filename, file_sha256, logical_key, duplicate_of,
	supplier_name, invoice_number, invoice_date, total_amount_cents, currency, line_items,
	submitter_name, submitter_email, submitter_team, business_reason, text_excerpt,
	approval_status, created_at`

// InvoiceRepository implements port.InvoiceRepository and port.SubmissionIndex
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a new invoice record and sets its ID
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		INSERT INTO invoices (
			filename, file_sha256, logical_key, duplicate_of,
			supplier_name, invoice_number, invoice_date, total_amount_cents, currency, line_items,
			submitter_name, submitter_email, submitter_team, business_reason, text_excerpt,
			approval_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	lineItems := invoice.Extraction.LineItems
	if lineItems == nil {
		lineItems = []entity.LineItem{}
	}
	lineItemsJSON, err := json.Marshal(lineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = r.now().UTC()
	}

	var invoiceDate, amount interface{}
	if d := invoice.Extraction.InvoiceDate; d != nil {
		invoiceDate = d.Format(dateLayout)
	}
	if a := invoice.Extraction.TotalAmount; a != nil {
		amount = int64(*a)
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		invoice.Filename,
		invoice.FileSHA256,
		invoice.LogicalKey,
		nullInt64(invoice.DuplicateOf),
		nullString(invoice.Extraction.SupplierName),
		nullString(invoice.Extraction.InvoiceNumber),
		invoiceDate,
		amount,
		nullString(invoice.Extraction.Currency),
		string(lineItemsJSON),
		invoice.SubmitterName,
		invoice.SubmitterEmail,
		invoice.SubmitterTeam,
		invoice.BusinessReason,
		invoice.TextExcerpt,
		invoice.ApprovalStatus,
		invoice.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	invoice.ID = id
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	invoice, err := scanInvoice(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY id DESC LIMIT ? OFFSET ?`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}

	return invoices, nil
}

// UpdateApprovalStatus updates the denormalized approval status of an invoice
func (r *InvoiceRepository) UpdateApprovalStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE invoices SET approval_status = ? WHERE id = ?`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update invoice approval status",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update invoice approval status: %w", err)
	}
	return nil
}

// DeleteAll removes every invoice and returns the number of rows deleted
func (r *InvoiceRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM invoices`)
	if err != nil {
		r.logger.Error("Failed to delete invoices", zap.Error(err))
		return 0, fmt.Errorf("failed to delete invoices: %w", err)
	}
	return result.RowsAffected()
}

// FindByFingerprint returns the earliest invoice whose file hash matches
func (r *InvoiceRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Invoice, error) {
	return r.findFirst(ctx, "file_sha256", fingerprint)
}

// FindByLogicalKey returns the earliest invoice with the same supplier and invoice number
func (r *InvoiceRepository) FindByLogicalKey(ctx context.Context, logicalKey string) (*entity.Invoice, error) {
	if logicalKey == "" {
		return nil, nil
	}
	return r.findFirst(ctx, "logical_key", logicalKey)
}

func (r *InvoiceRepository) findFirst(ctx context.Context, column, value string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + column + ` = ? ORDER BY id ASC LIMIT 1`

	invoice, err := scanInvoice(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up invoice", zap.String("column", column), zap.Error(err))
		return nil, fmt.Errorf("failed to look up invoice by %s: %w", column, err)
	}
	return invoice, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var (
		invoice       entity.Invoice
		duplicateOf   sql.NullInt64
		supplierName  sql.NullString
		invoiceNumber sql.NullString
		invoiceDate   sql.NullString
		amountCents   sql.NullInt64
		currency      sql.NullString
		lineItemsJSON string
	)

	err := row.Scan(
		&invoice.ID,
		&invoice.Filename,
		&invoice.FileSHA256,
		&invoice.LogicalKey,
		&duplicateOf,
		&supplierName,
		&invoiceNumber,
		&invoiceDate,
		&amountCents,
		&currency,
		&lineItemsJSON,
		&invoice.SubmitterName,
		&invoice.SubmitterEmail,
		&invoice.SubmitterTeam,
		&invoice.BusinessReason,
		&invoice.TextExcerpt,
		&invoice.ApprovalStatus,
		&invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if duplicateOf.Valid {
		v := duplicateOf.Int64
		invoice.DuplicateOf = &v
	}
	if supplierName.Valid {
		invoice.Extraction.SupplierName = entity.StringPtr(supplierName.String)
	}
	if invoiceNumber.Valid {
		invoice.Extraction.InvoiceNumber = entity.StringPtr(invoiceNumber.String)
	}
	if currency.Valid {
		invoice.Extraction.Currency = entity.StringPtr(currency.String)
	}
	if amountCents.Valid {
		invoice.Extraction.TotalAmount = entity.AmountPtr(entity.Amount(amountCents.Int64))
	}
	if invoiceDate.Valid && invoiceDate.String != "" {
		d, err := time.Parse(dateLayout, invoiceDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid invoice_date %q: %w", invoiceDate.String, err)
		}
		invoice.Extraction.InvoiceDate = &d
	}
	if lineItemsJSON != "" {
		if err := json.Unmarshal([]byte(lineItemsJSON), &invoice.Extraction.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
		}
	}

	return &invoice, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Verify interface compliance
var (
	_ port.InvoiceRepository = (*InvoiceRepository)(nil)
	_ port.SubmissionIndex   = (*InvoiceRepository)(nil)
)
