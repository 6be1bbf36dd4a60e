package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// ExtractorConfig configures invoice field extraction
type ExtractorConfig struct {
	// RecipientOrg is the organisation receiving invoices; it is never the supplier
	RecipientOrg string
	// MaxPromptChars bounds the document text sent to the model
	MaxPromptChars int
}

// Extractor implements port.ExtractionProvider with a PDF text layer and an OpenAI prompt
type Extractor struct {
	client    *Client
	text      port.TextExtractor
	prompt    PromptSpec
	recipient *regexp.Regexp
	cfg       ExtractorConfig
	logger    *zap.Logger
}

// NewExtractor creates a new invoice extractor
func NewExtractor(client *Client, text port.TextExtractor, prompts *PromptConfig, cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = entity.MaxPromptChars
	}
	cfg.RecipientOrg = strings.TrimSpace(cfg.RecipientOrg)

	var recipient *regexp.Regexp
	if cfg.RecipientOrg != "" {
		recipient = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cfg.RecipientOrg) + `\b`)
	}

	return &Extractor{
		client:    client,
		text:      text,
		prompt:    prompts.InvoiceExtraction,
		recipient: recipient,
		cfg:       cfg,
		logger:    logger,
	}
}

// rawExtraction is the JSON shape requested from the model
type rawExtraction struct {
	InvoiceNumber flexString    `json:"invoice_number"`
	InvoiceID     flexString    `json:"invoice_id"`
	SupplierName  flexString    `json:"supplier_name"`
	InvoiceDate   flexString    `json:"invoice_date"`
	TotalAmount   flexNumber    `json:"total_amount"`
	Currency      flexString    `json:"currency"`
	LineItems     []rawLineItem `json:"line_items"`
}

type rawLineItem struct {
	Description flexString `json:"description"`
	Quantity    flexNumber `json:"quantity"`
	UnitPrice   flexNumber `json:"unit_price"`
	Total       flexNumber `json:"total"`
}

// Extract reads the document text, asks the model for structured fields and fills gaps
// from the raw text
func (e *Extractor) Extract(ctx context.Context, document []byte) (*entity.ExtractionResult, error) {
	text, err := e.text.ExtractText(ctx, document)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &entity.ExtractionError{Reason: "unreadable document", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &entity.ExtractionError{Reason: "document has no extractable text"}
	}

	raw, llmErr := e.askModel(ctx, text)
	if llmErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Model extraction failed, using text fallbacks only", zap.Error(llmErr))
		raw = &rawExtraction{}
	}

	result := e.normalize(raw, text)
	if llmErr != nil && isEmptyResult(result) {
		return nil, &entity.ExtractionError{Reason: "no fields could be extracted", Err: llmErr}
	}

	e.logger.Info("Invoice fields extracted",
		zap.String("supplier", entity.StringValue(result.SupplierName)),
		zap.String("invoice_number", entity.StringValue(result.InvoiceNumber)),
		zap.Bool("has_total", result.TotalAmount != nil),
		zap.Int("line_items", len(result.LineItems)))

	return result, nil
}

func (e *Extractor) askModel(ctx context.Context, text string) (*rawExtraction, error) {
	prompt, err := renderTemplate(e.prompt.UserTemplate, struct {
		Text         string
		RecipientOrg string
	}{
		Text:         truncateRunes(text, e.cfg.MaxPromptChars),
		RecipientOrg: e.cfg.RecipientOrg,
	})
	if err != nil {
		return nil, err
	}

	content, err := e.client.CompleteJSON(ctx, e.prompt, prompt)
	if err != nil {
		return nil, err
	}

	var raw rawExtraction
	if err := decodeJSON(content, &raw); err != nil {
		e.logger.Error("Failed to parse extraction response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &raw, nil
}

func (e *Extractor) normalize(raw *rawExtraction, text string) *entity.ExtractionResult {
	result := &entity.ExtractionResult{SourceText: text}

	number := raw.InvoiceNumber.value
	if number == "" {
		number = raw.InvoiceID.value
	}
	if number != "" {
		result.InvoiceNumber = entity.StringPtr(number)
	}

	supplier := e.cleanSupplier(raw.SupplierName.value)
	if supplier == "" {
		supplier = e.fallbackSupplier(text)
	}
	if supplier != "" {
		result.SupplierName = entity.StringPtr(supplier)
	}

	if d, ok := parseDate(raw.InvoiceDate.value); ok {
		result.InvoiceDate = &d
	} else if d, ok := fallbackDate(text); ok {
		result.InvoiceDate = &d
	}

	if raw.TotalAmount.value != nil {
		// an unrepresentable total stays absent so the invoice goes to the highest tier
		if a, ok := entity.AmountFromFloat(*raw.TotalAmount.value); ok {
			result.TotalAmount = &a
		} else {
			e.logger.Warn("Discarding out-of-range total amount",
				zap.Float64("total_amount", *raw.TotalAmount.value))
		}
	} else if a, ok := fallbackTotal(text); ok {
		result.TotalAmount = &a
	}

	if c := strings.ToUpper(strings.TrimSpace(raw.Currency.value)); c != "" {
		result.Currency = entity.StringPtr(c)
	}

	for _, item := range raw.LineItems {
		result.LineItems = append(result.LineItems, normalizeLineItem(item))
	}

	return result
}

// cleanSupplier removes the recipient organisation from a supplier name
func (e *Extractor) cleanSupplier(name string) string {
	if e.recipient != nil {
		name = e.recipient.ReplaceAllString(name, "")
	}
	name = strings.Join(strings.Fields(name), " ")
	return strings.TrimRight(name, " ,-")
}

var fromLinePattern = regexp.MustCompile(`(?i)from\s*:\s*(.*)`)

// fallbackSupplier reads the "From:" line, else the first line not naming the recipient
func (e *Extractor) fallbackSupplier(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	for _, line := range lines {
		if m := fromLinePattern.FindStringSubmatch(line); m != nil {
			if supplier := e.cleanSupplier(m[1]); supplier != "" {
				return supplier
			}
		}
	}

	for _, line := range lines {
		if e.recipient != nil && e.recipient.MatchString(line) {
			continue
		}
		if supplier := e.cleanSupplier(line); supplier != "" {
			return supplier
		}
	}
	return ""
}

var totalPattern = regexp.MustCompile(`(?i)\b(?:total|amount due|balance due)[:\s]*\$?([\d,]+(?:\.\d{2})?)\b`)

func fallbackTotal(text string) (entity.Amount, bool) {
	m := totalPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	a, err := entity.ParseAmount(m[1])
	if err != nil {
		return 0, false
	}
	return a, true
}

var datePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{2}/\d{2}/\d{4}\b|\b\d{2}-\d{2}-\d{4}\b`)

func fallbackDate(text string) (time.Time, bool) {
	for _, candidate := range datePattern.FindAllString(text, -1) {
		if d, ok := parseDate(candidate); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// parseDate accepts ISO dates, US slash dates and day-first dash dates
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > 10 {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeLineItem defaults quantity to 1 and derives the total from quantity and unit price
func normalizeLineItem(raw rawLineItem) entity.LineItem {
	item := entity.LineItem{
		Description: strings.TrimSpace(raw.Description.value),
		Quantity:    1,
	}
	if raw.Quantity.value != nil && *raw.Quantity.value > 0 {
		item.Quantity = *raw.Quantity.value
	}

	// out-of-range prices are left at zero
	switch {
	case raw.UnitPrice.value != nil:
		item.UnitPrice, _ = entity.AmountFromFloat(*raw.UnitPrice.value)
		item.Total, _ = entity.AmountFromFloat(item.Quantity * *raw.UnitPrice.value)
	case raw.Total.value != nil:
		item.Total, _ = entity.AmountFromFloat(*raw.Total.value)
		item.UnitPrice, _ = entity.AmountFromFloat(*raw.Total.value / item.Quantity)
	}
	return item
}

func isEmptyResult(r *entity.ExtractionResult) bool {
	return r.SupplierName == nil && r.InvoiceNumber == nil && r.InvoiceDate == nil &&
		r.TotalAmount == nil && r.Currency == nil && len(r.LineItems) == 0
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// flexString accepts JSON strings and numbers; null stays empty
type flexString struct {
	value string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		f.value = strings.TrimSpace(t)
	case float64:
		f.value = strconv.FormatFloat(t, 'f', -1, 64)
	}
	return nil
}

// flexNumber accepts JSON numbers and numeric strings such as "$1,234.50"
type flexNumber struct {
	value *float64
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		f.value = &t
	case string:
		if n, err := parseNumber(t); err == nil {
			f.value = &n
		}
	}
	return nil
}

var errNotNumber = errors.New("not a number")

func parseNumber(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimLeft(cleaned, "$€£¥₹")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, errNotNumber
	}
	return n, nil
}

// Verify interface compliance
var _ port.ExtractionProvider = (*Extractor)(nil)
