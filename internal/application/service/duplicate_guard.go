package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// VerdictKind classifies a submission against earlier ones
type VerdictKind string

const (
	VerdictUnique     VerdictKind = "unique"
	VerdictRejected   VerdictKind = "rejected"
	VerdictOverridden VerdictKind = "overridden"
	VerdictFlagged    VerdictKind = "flagged"
)

// DuplicateVerdict is the guard's answer for one submission
type DuplicateVerdict struct {
	Kind              VerdictKind `json:"kind"`
	ExistingInvoiceID int64       `json:"existing_invoice_id,omitempty"`
	Note              string      `json:"note,omitempty"`
}

// Admitted reports whether the submission may be recorded
func (v *DuplicateVerdict) Admitted() bool {
	return v != nil && v.Kind != VerdictRejected
}

// Submission is an invoice about to be recorded. Invoice.FileSHA256 and
// Invoice.LogicalKey must be set.
type Submission struct {
	Invoice  *entity.Invoice
	Override bool
}

// Fingerprint returns the lowercase hex SHA-256 of document
func Fingerprint(document []byte) string {
	sum := sha256.Sum256(document)
	return hex.EncodeToString(sum[:])
}

// LogicalKey builds the supplier/invoice-number identity of an invoice.
// It is empty unless both parts were extracted.
func LogicalKey(supplierName, invoiceNumber *string) string {
	if !entity.HasText(supplierName) || !entity.HasText(invoiceNumber) {
		return ""
	}
	return normalizeKeyPart(*supplierName) + "|" + normalizeKeyPart(*invoiceNumber)
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DuplicateGuard rejects exact re-uploads and flags likely duplicates.
// Admit is the single serialization point for check-and-record.
type DuplicateGuard struct {
	index     port.SubmissionIndex
	txManager port.TransactionManager
	logger    Logger
	mu        sync.Mutex
}

// NewDuplicateGuard creates a new DuplicateGuard
func NewDuplicateGuard(index port.SubmissionIndex, txManager port.TransactionManager, logger Logger) *DuplicateGuard {
	return &DuplicateGuard{
		index:     index,
		txManager: txManager,
		logger:    logger,
	}
}

// Precheck looks up the fingerprint before any expensive processing happens.
// A rejected verdict comes with a *DuplicateError.
func (g *DuplicateGuard) Precheck(ctx context.Context, fingerprint string, override bool) (*DuplicateVerdict, error) {
	existing, err := g.index.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return fingerprintVerdict(existing, fingerprint, override)
}

// Admit re-checks the submission and runs record inside one transaction while
// holding the guard lock, so concurrent uploads of the same file cannot both pass.
func (g *DuplicateGuard) Admit(ctx context.Context, sub *Submission, record func(ctx context.Context) error) (*DuplicateVerdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inv := sub.Invoice
	prevID, prevDuplicateOf := inv.ID, inv.DuplicateOf
	var verdict *DuplicateVerdict

	err := g.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := g.index.FindByFingerprint(txCtx, inv.FileSHA256)
		if err != nil {
			return fmt.Errorf("lookup fingerprint: %w", err)
		}
		verdict, err = fingerprintVerdict(existing, inv.FileSHA256, sub.Override)
		if err != nil {
			return err
		}

		if verdict.Kind == VerdictUnique && inv.LogicalKey != "" {
			match, err := g.index.FindByLogicalKey(txCtx, inv.LogicalKey)
			if err != nil {
				return fmt.Errorf("lookup logical key: %w", err)
			}
			if match != nil {
				verdict = &DuplicateVerdict{
					Kind:              VerdictFlagged,
					ExistingInvoiceID: match.ID,
					Note: fmt.Sprintf("possible duplicate of invoice %d: same supplier and invoice number, different file",
						match.ID),
				}
			}
		}

		if verdict.ExistingInvoiceID != 0 {
			id := verdict.ExistingInvoiceID
			inv.DuplicateOf = &id
		}

		if err := record(txCtx); err != nil {
			return fmt.Errorf("record submission: %w", err)
		}
		return nil
	})
	if err != nil {
		// nothing was stored, so the invoice must not point at a duplicate
		inv.ID, inv.DuplicateOf = prevID, prevDuplicateOf
		if verdict != nil && verdict.Kind == VerdictRejected {
			g.logger.Info("Duplicate submission rejected", "fingerprint", inv.FileSHA256, "existing_invoice_id", verdict.ExistingInvoiceID)
			return verdict, err
		}
		g.logger.Error("Failed to admit submission", "error", err, "fingerprint", inv.FileSHA256)
		return nil, err
	}

	if verdict.Kind != VerdictUnique {
		g.logger.Info("Submission admitted as duplicate",
			"invoice_id", inv.ID,
			"verdict", verdict.Kind,
			"existing_invoice_id", verdict.ExistingInvoiceID,
		)
	}
	return verdict, nil
}

func fingerprintVerdict(existing *entity.Invoice, fingerprint string, override bool) (*DuplicateVerdict, error) {
	if existing == nil {
		return &DuplicateVerdict{Kind: VerdictUnique}, nil
	}
	if override {
		return &DuplicateVerdict{
			Kind:              VerdictOverridden,
			ExistingInvoiceID: existing.ID,
			Note:              fmt.Sprintf("resubmission of invoice %d accepted with override", existing.ID),
		}, nil
	}
	return &DuplicateVerdict{Kind: VerdictRejected, ExistingInvoiceID: existing.ID},
		&DuplicateError{ExistingInvoiceID: existing.ID, Fingerprint: fingerprint}
}
