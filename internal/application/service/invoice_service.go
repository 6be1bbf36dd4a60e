package service

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// Listing bounds
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
	exportBatchSize  = 500
)

// ClampLimit bounds a requested page size to [1, MaxListLimit]
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// ClearResult counts the rows removed by Clear
type ClearResult struct {
	Invoices  int64 `json:"invoices"`
	Approvals int64 `json:"approvals"`
}

// InvoiceService exposes stored invoices
type InvoiceService interface {
	List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error)
	Get(ctx context.Context, id int64) (*entity.Invoice, error)
	Export(ctx context.Context, w io.Writer) (int, error)
	Clear(ctx context.Context) (*ClearResult, error)
}

type invoiceServiceImpl struct {
	invoiceRepo  port.InvoiceRepository
	approvalRepo port.ApprovalRepository
	exporter     port.InvoiceExporter
	txManager    port.TransactionManager
	logger       Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo port.InvoiceRepository,
	approvalRepo port.ApprovalRepository,
	exporter port.InvoiceExporter,
	txManager port.TransactionManager,
	logger Logger,
) InvoiceService {
	return &invoiceServiceImpl{
		invoiceRepo:  invoiceRepo,
		approvalRepo: approvalRepo,
		exporter:     exporter,
		txManager:    txManager,
		logger:       logger,
	}
}

// List returns invoices newest first
func (s *invoiceServiceImpl) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	if offset < 0 {
		offset = 0
	}
	invoices, err := s.invoiceRepo.List(ctx, ClampLimit(limit), offset)
	if err != nil {
		s.logger.Error("Failed to list invoices", "error", err, "limit", limit, "offset", offset)
		return nil, err
	}
	return invoices, nil
}

// Get retrieves an invoice by ID
func (s *invoiceServiceImpl) Get(ctx context.Context, id int64) (*entity.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get invoice", "error", err, "id", id)
		return nil, err
	}
	if invoice == nil {
		return nil, ErrNotFound
	}
	return invoice, nil
}

// Export writes every invoice with its latest approval to w and returns the row count
func (s *invoiceServiceImpl) Export(ctx context.Context, w io.Writer) (int, error) {
	var rows []port.ExportRow
	for offset := 0; ; offset += exportBatchSize {
		batch, err := s.invoiceRepo.List(ctx, exportBatchSize, offset)
		if err != nil {
			return 0, fmt.Errorf("list invoices: %w", err)
		}
		for _, inv := range batch {
			approval, err := s.approvalRepo.GetLatestByInvoiceID(ctx, inv.ID)
			if err != nil {
				return 0, fmt.Errorf("get approval for invoice %d: %w", inv.ID, err)
			}
			rows = append(rows, port.ExportRow{Invoice: inv, Approval: approval})
		}
		if len(batch) < exportBatchSize {
			break
		}
	}

	if err := s.exporter.Export(ctx, rows, w); err != nil {
		s.logger.Error("Failed to export invoices", "error", err)
		return 0, fmt.Errorf("export invoices: %w", err)
	}

	s.logger.Info("Invoices exported", "rows", len(rows))
	return len(rows), nil
}

// Clear deletes all approvals and invoices
func (s *invoiceServiceImpl) Clear(ctx context.Context) (*ClearResult, error) {
	result := &ClearResult{}
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := s.approvalRepo.DeleteAll(txCtx)
		if err != nil {
			return fmt.Errorf("delete approvals: %w", err)
		}
		result.Approvals = n

		n, err = s.invoiceRepo.DeleteAll(txCtx)
		if err != nil {
			return fmt.Errorf("delete invoices: %w", err)
		}
		result.Invoices = n
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to clear database", "error", err)
		return nil, err
	}

	s.logger.Info("Database cleared", "invoices", result.Invoices, "approvals", result.Approvals)
	return result, nil
}
