package entity

import (
	"strconv"
	"strings"
	"time"
)

// LineItem is a single row on an invoice
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   Amount  `json:"unit_price"`
	Total       Amount  `json:"total"`
}

// ExtractionResult is the structured output of the upstream LLM extractor.
// Nil pointers mean the field was not found; a zero Amount is a real value.
type ExtractionResult struct {
	SupplierName  *string    `json:"supplier_name"`
	InvoiceNumber *string    `json:"invoice_number"`
	InvoiceDate   *time.Time `json:"invoice_date"`
	TotalAmount   *Amount    `json:"total_amount"`
	Currency      *string    `json:"currency"`
	LineItems     []LineItem `json:"line_items"`

	// SourceText is the document text the fields were read from
	SourceText string `json:"-"`
}

// HasText reports whether s is present and not blank
func HasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Invoice is a persisted submission together with its extraction result
type Invoice struct {
	ID             int64            `json:"id"`
	Filename       string           `json:"filename"`
	FileSHA256     string           `json:"file_sha256"`
	LogicalKey     string           `json:"logical_key,omitempty"`
	DuplicateOf    *int64           `json:"duplicate_of,omitempty"`
	Extraction     ExtractionResult `json:"extraction"`
	SubmitterName  string           `json:"submitter_name,omitempty"`
	SubmitterEmail string           `json:"submitter_email,omitempty"`
	SubmitterTeam  string           `json:"submitter_team,omitempty"`
	BusinessReason string           `json:"business_reason,omitempty"`
	TextExcerpt    string           `json:"text_excerpt,omitempty"`
	ApprovalStatus string           `json:"approval_status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DisplayNumber returns the invoice number printed on the document, falling back to
// the database id
func (i *Invoice) DisplayNumber() string {
	if HasText(i.Extraction.InvoiceNumber) {
		return strings.TrimSpace(*i.Extraction.InvoiceNumber)
	}
	return strconv.FormatInt(i.ID, 10)
}
