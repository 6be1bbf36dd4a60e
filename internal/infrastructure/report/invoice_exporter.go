package report

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SheetName is the worksheet holding exported invoices
const SheetName = "Invoices"

// Columns lists the export header in column order
var Columns = []string{
	"Invoice ID",
	"Filename",
	"Supplier",
	"Invoice Number",
	"Invoice Date",
	"Total",
	"Currency",
	"Submitter",
	"Submitter Email",
	"Business Reason",
	"Approval Status",
	"Approver Tier",
	"Decided By",
	"Reason",
	"Duplicate Of",
	"Submitted At",
}

// InvoiceExporter implements port.InvoiceExporter as an xlsx workbook
type InvoiceExporter struct {
	logger *zap.Logger
}

// NewInvoiceExporter creates a new spreadsheet exporter
func NewInvoiceExporter(logger *zap.Logger) *InvoiceExporter {
	return &InvoiceExporter{logger: logger}
}

// Export writes one row per invoice with its latest approval
func (e *InvoiceExporter) Export(ctx context.Context, rows []port.ExportRow, w io.Writer) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := file.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(Columns))
	if err != nil {
		return err
	}
	if err := file.SetCellStyle(SheetName, "A1", lastCol+"1", style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := rowValues(row)
		if err := file.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := file.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		e.logger.Warn("Failed to freeze export header", zap.Error(err))
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Invoice export written", zap.Int("rows", len(rows)))
	return nil
}

func rowValues(row port.ExportRow) []interface{} {
	inv := row.Invoice
	ext := inv.Extraction

	var date, total, duplicateOf interface{}
	if ext.InvoiceDate != nil {
		date = ext.InvoiceDate.Format("2006-01-02")
	}
	if ext.TotalAmount != nil {
		total = ext.TotalAmount.Float()
	}
	if inv.DuplicateOf != nil {
		duplicateOf = *inv.DuplicateOf
	}

	status := inv.ApprovalStatus
	var tier, decidedBy, reason string
	if a := row.Approval; a != nil {
		status = a.Status
		tier = entity.ApproverTier(a.ApproverTier).Label()
		decidedBy = a.DecidedBy
		reason = a.Reason
	}

	return []interface{}{
		inv.ID,
		inv.Filename,
		entity.StringValue(ext.SupplierName),
		entity.StringValue(ext.InvoiceNumber),
		date,
		total,
		entity.StringValue(ext.Currency),
		inv.SubmitterName,
		inv.SubmitterEmail,
		inv.BusinessReason,
		status,
		tier,
		decidedBy,
		reason,
		duplicateOf,
		inv.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

// Verify interface compliance
var _ port.InvoiceExporter = (*InvoiceExporter)(nil)
