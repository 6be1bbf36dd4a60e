package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptSpec holds one prompt and its model parameters
type PromptSpec struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds all prompts used against the OpenAI API
type PromptConfig struct {
	InvoiceExtraction    PromptSpec `yaml:"invoice_extraction"`
	ComplianceAssessment PromptSpec `yaml:"compliance_assessment"`
}

// LoadPrompts loads prompt configuration from a YAML file.
// Sections missing from the file keep their built-in defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	for name, spec := range map[string]PromptSpec{
		"invoice_extraction":    prompts.InvoiceExtraction,
		"compliance_assessment": prompts.ComplianceAssessment,
	} {
		if _, err := template.New(name).Parse(spec.UserTemplate); err != nil {
			return nil, fmt.Errorf("invalid %s template: %w", name, err)
		}
	}

	return prompts, nil
}

// DefaultPrompts returns the built-in prompts
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		InvoiceExtraction: PromptSpec{
			Temperature:  0,
			MaxTokens:    1500,
			System:       "You are an invoice data extraction assistant. Extract structured data from invoices and always respond with a single JSON object.",
			UserTemplate: defaultExtractionTemplate,
		},
		ComplianceAssessment: PromptSpec{
			Temperature:  0.1,
			MaxTokens:    1000,
			System:       "You are an invoice approval assistant. Analyze the invoice against the policy and respond with a single JSON object.",
			UserTemplate: defaultAssessmentTemplate,
		},
	}
}

const defaultExtractionTemplate = `Parse the following invoice text and extract key information into JSON format.
Extract: invoice_number (the unique identifier on the invoice), supplier_name, invoice_date (ISO format YYYY-MM-DD),
total_amount (number), currency (ISO code such as "USD" or "INR"), and line_items (array of objects with
description, quantity, unit_price, total).
{{if .RecipientOrg}}
For supplier_name:
- Take the supplier or vendor name from the "From" column or the header.
- "{{.RecipientOrg}}" is the organization receiving the invoice, never the supplier.
{{end}}
If a field is not present, set it to null. Do not guess.

Invoice Text:
{{.Text}}`

const defaultAssessmentTemplate = `Review the invoice below against the company approval policy.

Invoice:
{{.Invoice}}

Policy:
{{.Policy}}

Prior human decisions (most recent first):
{{.Prior}}

Current Date: {{.CurrentDate}}{{if .HasInvoiceDate}} | Invoice Date: {{.InvoiceDate}} | Days Since Invoice: {{.DaysSinceInvoice}}{{end}}

Respond with a JSON object with exactly these fields:
{
  "decision": "approved" | "declined" | "needs_review",
  "reason": string explaining the decision,
  "confidence": number between 0.0 and 1.0,
  "citations": [policy sections or invoice lines supporting the decision],
  "prior_case_refs": [the "ref" of every prior decision you relied on]
}
Quote any line item that conflicts with the policy in citations.`

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
