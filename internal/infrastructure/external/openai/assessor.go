package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// Assessor implements port.ComplianceAssessor using OpenAI
type Assessor struct {
	client *Client
	prompt PromptSpec
	now    func() time.Time
	logger *zap.Logger
}

// NewAssessor creates a new compliance assessor
func NewAssessor(client *Client, prompts *PromptConfig, logger *zap.Logger) *Assessor {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Assessor{
		client: client,
		prompt: prompts.ComplianceAssessment,
		now:    time.Now,
		logger: logger,
	}
}

type assessmentResponse struct {
	Decision      string   `json:"decision"`
	Reason        string   `json:"reason"`
	Reasoning     string   `json:"reasoning"`
	Confidence    *float64 `json:"confidence"`
	Citations     []string `json:"citations"`
	PriorCaseRefs []string `json:"prior_case_refs"`
}

type promptInvoice struct {
	SupplierName  *string          `json:"supplier_name"`
	InvoiceNumber *string          `json:"invoice_number"`
	InvoiceDate   *string          `json:"invoice_date"`
	TotalAmount   *string          `json:"total_amount"`
	Currency      *string          `json:"currency"`
	LineItems     []promptLineItem `json:"line_items"`
}

type promptLineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	Total       string  `json:"total"`
}

type promptPriorCase struct {
	Ref          string `json:"ref"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	SupplierName string `json:"supplier_name,omitempty"`
	TotalAmount  string `json:"total_amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
}

// Assess asks the model for a policy opinion on the extracted invoice
func (a *Assessor) Assess(ctx context.Context, extraction *entity.ExtractionResult, policyText string, priorCases []entity.PriorCase) (*entity.ComplianceOpinion, error) {
	if extraction == nil {
		return nil, &entity.AssessmentError{Reason: "no extraction to assess"}
	}

	prompt, err := a.buildPrompt(extraction, policyText, priorCases)
	if err != nil {
		return nil, &entity.AssessmentError{Reason: "failed to build prompt", Err: err}
	}

	content, err := a.client.CompleteJSON(ctx, a.prompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &entity.AssessmentError{Reason: "model unavailable", Err: err}
	}

	var resp assessmentResponse
	if err := decodeJSON(content, &resp); err != nil {
		a.logger.Error("Failed to parse assessment response",
			zap.Error(err),
			zap.String("content", content))
		return nil, &entity.AssessmentError{Reason: "malformed response", Err: err}
	}

	decision := strings.TrimSpace(resp.Decision)
	if decision == "" {
		return nil, &entity.AssessmentError{Reason: "response has no decision"}
	}

	reasoning := resp.Reason
	if reasoning == "" {
		reasoning = resp.Reasoning
	}

	opinion := &entity.ComplianceOpinion{
		Decision:      mapDecision(decision),
		Reasoning:     strings.TrimSpace(reasoning),
		Citations:     nonEmpty(resp.Citations),
		Confidence:    resp.Confidence,
		PriorCaseRefs: knownRefs(resp.PriorCaseRefs, priorCases),
	}

	a.logger.Info("Compliance assessment completed",
		zap.String("decision", string(opinion.Decision)),
		zap.Int("citations", len(opinion.Citations)),
		zap.Int("prior_case_refs", len(opinion.PriorCaseRefs)))

	return opinion, nil
}

func (a *Assessor) buildPrompt(extraction *entity.ExtractionResult, policyText string, priorCases []entity.PriorCase) (string, error) {
	invoice := promptInvoice{
		SupplierName:  extraction.SupplierName,
		InvoiceNumber: extraction.InvoiceNumber,
		Currency:      extraction.Currency,
		LineItems:     []promptLineItem{},
	}
	if extraction.InvoiceDate != nil {
		invoice.InvoiceDate = entity.StringPtr(extraction.InvoiceDate.Format("2006-01-02"))
	}
	if extraction.TotalAmount != nil {
		invoice.TotalAmount = entity.StringPtr(extraction.TotalAmount.String())
	}
	for _, item := range extraction.LineItems {
		invoice.LineItems = append(invoice.LineItems, promptLineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			Total:       item.Total.String(),
		})
	}

	prior := make([]promptPriorCase, 0, len(priorCases))
	for _, pc := range priorCases {
		prior = append(prior, promptPriorCase{
			Ref:          pc.Ref(),
			Status:       pc.Status,
			Reason:       pc.Reason,
			SupplierName: pc.SupplierName,
			TotalAmount:  pc.TotalAmount,
			Currency:     pc.Currency,
		})
	}

	invoiceJSON, err := json.MarshalIndent(invoice, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal invoice: %w", err)
	}
	priorJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prior decisions: %w", err)
	}

	now := a.now().UTC()
	data := struct {
		Invoice          string
		Policy           string
		Prior            string
		CurrentDate      string
		HasInvoiceDate   bool
		InvoiceDate      string
		DaysSinceInvoice int
	}{
		Invoice:     string(invoiceJSON),
		Policy:      policyText,
		Prior:       string(priorJSON),
		CurrentDate: now.Format("2006-01-02"),
	}
	if extraction.InvoiceDate != nil {
		data.HasInvoiceDate = true
		data.InvoiceDate = extraction.InvoiceDate.Format("2006-01-02")
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		d := extraction.InvoiceDate.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		data.DaysSinceInvoice = int(today.Sub(day).Hours() / 24)
	}

	return renderTemplate(a.prompt.UserTemplate, data)
}

// mapDecision maps the model's vocabulary onto opinion decisions; unknown values pass
// through unchanged so the engine can reject them
func mapDecision(decision string) entity.OpinionDecision {
	switch strings.ToLower(decision) {
	case "approved", "approve":
		return entity.OpinionApproved
	case "declined", "decline", "rejected", "reject":
		return entity.OpinionDeclined
	case "needs_review", "needs review", "approval_inprogress", "in_progress", "pending":
		return entity.OpinionNeedsReview
	}
	return entity.OpinionDecision(decision)
}

func nonEmpty(items []string) []string {
	out := []string{}
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// knownRefs keeps only references to prior cases that were actually offered
func knownRefs(refs []string, priorCases []entity.PriorCase) []string {
	offered := make(map[string]bool, len(priorCases))
	for _, pc := range priorCases {
		offered[pc.Ref()] = true
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if offered[ref] && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Verify interface compliance
var _ port.ComplianceAssessor = (*Assessor)(nil)
