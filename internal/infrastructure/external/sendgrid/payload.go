package sendgrid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// FlexString accepts JSON strings and numbers
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = ""
	case string:
		*f = FlexString(t)
	case float64:
		*f = FlexString(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		*f = FlexString(strconv.FormatBool(t))
	default:
		return fmt.Errorf("unsupported value %s", string(data))
	}
	return nil
}

// Brand identifies the sending organisation
type Brand struct {
	Name    string `json:"name" mapstructure:"name"`
	LogoURL string `json:"logo_url" mapstructure:"logo_url"`
}

// Footer holds the links shown at the bottom of an e-mail
type Footer struct {
	HelpURL        string `json:"help_url" mapstructure:"help_url"`
	PreferencesURL string `json:"preferences_url" mapstructure:"preferences_url"`
}

// InvoiceBlock describes the invoice in an approval e-mail
type InvoiceBlock struct {
	Number         FlexString `json:"number"`
	Amount         FlexString `json:"amount"`
	Currency       FlexString `json:"currency"`
	Vendor         FlexString `json:"vendor"`
	BusinessReason FlexString `json:"business_reason"`
	Date           FlexString `json:"date"`
	Link           FlexString `json:"link"`
	AttachmentsURL FlexString `json:"attachments_url"`
}

// Requestor is the person who submitted the invoice
type Requestor struct {
	Name  FlexString `json:"name"`
	Email FlexString `json:"email"`
	Team  FlexString `json:"team"`
}

// ApprovalEmailPayload is the dynamic template data of an approval e-mail
type ApprovalEmailPayload struct {
	Preheader       string       `json:"preheader"`
	Brand           Brand        `json:"brand"`
	Invoice         InvoiceBlock `json:"invoice"`
	Requestor       Requestor    `json:"requestor"`
	ApproverName    string       `json:"approver_name"`
	ApprovalURL     string       `json:"approval_url"`
	RejectURL       string       `json:"reject_url"`
	Footer          Footer       `json:"footer"`
	ModelDecision   string       `json:"model_decision,omitempty"`
	ModelConfidence *float64     `json:"model_confidence,omitempty"`
	ModelReason     string       `json:"model_reason,omitempty"`
	ModelCitations  []string     `json:"model_citations"`
}

// Rendered is a ready-to-send e-mail
type Rendered struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// BuildPayload assembles template data for a review request
func BuildPayload(req *port.ReviewRequest, brand Brand, footer Footer, baseURL string) *ApprovalEmailPayload {
	inv := req.Invoice
	number := inv.DisplayNumber()

	block := InvoiceBlock{
		Number:         FlexString(number),
		Vendor:         FlexString(entity.StringValue(inv.Extraction.SupplierName)),
		Currency:       FlexString(entity.StringValue(inv.Extraction.Currency)),
		BusinessReason: FlexString(inv.BusinessReason),
		Link:           FlexString(fmt.Sprintf("%s/api/invoices/%d", strings.TrimRight(baseURL, "/"), inv.ID)),
	}
	if inv.Extraction.TotalAmount != nil {
		block.Amount = FlexString(inv.Extraction.TotalAmount.String())
	}
	if inv.Extraction.InvoiceDate != nil {
		block.Date = FlexString(inv.Extraction.InvoiceDate.Format("2006-01-02"))
	}

	payload := &ApprovalEmailPayload{
		Preheader: fmt.Sprintf("Invoice %s requires your approval", number),
		Brand:     brand,
		Invoice:   block,
		Requestor: Requestor{
			Name:  FlexString(inv.SubmitterName),
			Email: FlexString(inv.SubmitterEmail),
			Team:  FlexString(inv.SubmitterTeam),
		},
		ApproverName:   req.Approver.Name,
		ApprovalURL:    req.ReviewURL,
		RejectURL:      req.ReviewURL,
		Footer:         footer,
		ModelCitations: []string{},
	}

	if a := req.Approval; a != nil {
		payload.ModelDecision = a.ModelDecision
		payload.ModelConfidence = a.ModelConfidence
		payload.ModelReason = req.Decision.Reason
		if a.PolicyCitations != nil {
			payload.ModelCitations = a.PolicyCitations
		}
	}

	return payload
}

var brandedTemplate = template.Must(template.New("branded").Parse(`<div style="font-family:Inter,Arial,sans-serif">
  <div style="max-width:620px;margin:auto;border:1px solid #eee;border-radius:12px;overflow:hidden">
    <div style="background:#0f172a;color:#fff;padding:16px 20px;display:flex;align-items:center;gap:12px">
      {{if .Brand.LogoURL}}<img src="{{.Brand.LogoURL}}" alt="logo" style="height:28px"/>{{end}}
      <div style="font-weight:600">{{.Brand.Name}}</div>
    </div>
    <div style="padding:20px">
      <div style="color:#334155;font-size:14px">{{.Preheader}}</div>
      <h2 style="margin:8px 0 16px">Invoice {{.Invoice.Number}}</h2>
      <table style="width:100%;border-collapse:collapse">
        <tr><td style="padding:6px 0;color:#64748b">Vendor</td><td style="text-align:right">{{.Invoice.Vendor}}</td></tr>
        {{if .Invoice.BusinessReason}}<tr><td style="padding:6px 0;color:#64748b">Business Reason</td><td style="text-align:right">{{.Invoice.BusinessReason}}</td></tr>{{end}}
        <tr><td style="padding:6px 0;color:#64748b">Invoice Date</td><td style="text-align:right">{{.Invoice.Date}}</td></tr>
        <tr><td style="padding:6px 0;color:#64748b">Amount</td><td style="text-align:right;font-weight:600">{{.Invoice.Currency}}{{.Invoice.Amount}}</td></tr>
      </table>
      <div style="margin:14px 0">
        <a href="{{.InvoiceLink}}" style="color:#2563eb;text-decoration:none">View invoice</a>
        {{if .Invoice.AttachmentsURL}} · <a href="{{.Invoice.AttachmentsURL}}" style="color:#2563eb;text-decoration:none">Attachments</a>{{end}}
      </div>
      {{if .ModelReason}}<div style="margin:16px 0;padding:12px;background:#f0f9ff;border-left:4px solid #3b82f6;border-radius:4px">
        <div style="font-weight:600;margin-bottom:6px">Policy Recommendations</div>
        <div style="color:#374151;font-size:14px">{{.ModelReason}}</div>
        {{range .ModelCitations}}<div style="color:#64748b;font-size:12px">{{.}}</div>{{end}}
      </div>{{end}}
      <div style="margin:16px 0;padding:12px;background:#f8fafc;border:1px solid #e2e8f0;border-radius:8px">
        <div style="color:#475569;font-size:14px;margin-bottom:6px">Requested by</div>
        <div style="display:flex;justify-content:space-between">
          <div>{{.Requestor.Name}} · {{.Requestor.Team}}</div>
          <div style="color:#64748b">{{.Requestor.Email}}</div>
        </div>
      </div>
      <p style="color:#334155">Hi {{.ApproverName}}, please review this invoice.</p>
      <div style="display:flex;gap:10px;margin:18px 0">
        <a href="{{.ApprovalURL}}" style="background:#16a34a;color:#fff;padding:10px 14px;border-radius:8px;text-decoration:none">Approve</a>
        <a href="{{.RejectURL}}" style="background:#ef4444;color:#fff;padding:10px 14px;border-radius:8px;text-decoration:none">Decline</a>
      </div>
      <div style="font-size:12px;color:#94a3b8;margin-top:18px">
        Need help? <a href="{{.HelpURL}}" style="color:#2563eb">Help center</a>
        {{if .Footer.PreferencesURL}} · <a href="{{.Footer.PreferencesURL}}" style="color:#2563eb">Preferences</a>{{end}}
      </div>
    </div>
  </div>
</div>`))

// Render produces the branded approval e-mail for a payload, filling defaults for
// missing fields
func Render(payload *ApprovalEmailPayload) (*Rendered, error) {
	if payload == nil {
		payload = &ApprovalEmailPayload{}
	}
	p := *payload
	if p.Preheader == "" {
		p.Preheader = "Invoice requires your approval"
	}
	if p.ApproverName == "" {
		p.ApproverName = "Approver"
	}
	if p.ApprovalURL == "" {
		p.ApprovalURL = "#"
	}
	if p.RejectURL == "" {
		p.RejectURL = "#"
	}

	data := struct {
		ApprovalEmailPayload
		InvoiceLink string
		HelpURL     string
	}{
		ApprovalEmailPayload: p,
		InvoiceLink:          orHash(string(p.Invoice.Link)),
		HelpURL:              orHash(p.Footer.HelpURL),
	}

	var buf bytes.Buffer
	if err := brandedTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render approval e-mail: %w", err)
	}
	return &Rendered{Subject: p.Preheader, HTML: buf.String()}, nil
}

var reviewTemplate = template.Must(template.New("review").Parse(`<div style="font-family:Inter,Arial,sans-serif;color:#1f2937">
{{if .Supplier}}Supplier: {{.Supplier}}<br>{{end}}
Invoice Number: {{.Number}}<br>
{{if .Date}}Date: {{.Date}}<br>{{end}}
{{if .Total}}Total: {{.Total}}<br>{{end}}
<br>
<div style="margin:16px 0;padding:12px;background:#f0f9ff;border-left:4px solid #3b82f6;border-radius:4px">
  <h3 style="margin:0 0 10px 0;color:#1f2937;font-size:16px">Policy Recommendations</h3>
  {{if .BusinessReason}}<div style="margin-bottom:12px;padding:8px;background:#ffffff;border-radius:4px">
    <div style="font-size:11px;color:#6b7280;text-transform:uppercase;letter-spacing:0.5px;margin-bottom:4px">Business Reason</div>
    <div style="font-size:14px">{{.BusinessReason}}</div>
  </div>{{end}}
  {{if .Reason}}<div style="color:#374151;font-size:14px;line-height:1.6">{{.Reason}}</div>{{end}}
</div>
{{if .ReviewURL}}<br>
<a href="{{.ReviewURL}}" style="background:#10b981;color:#fff;padding:12px 24px;text-decoration:none;border-radius:8px;display:inline-block">Review Invoice</a>{{end}}
</div>`))

// RenderReview produces the built-in e-mail used when no dynamic template is configured
func RenderReview(req *port.ReviewRequest) (*Rendered, error) {
	inv := req.Invoice
	number := inv.DisplayNumber()

	subject := fmt.Sprintf("Invoice #%s requires approval", number)
	if req.Decision.Outcome == entity.OutcomeDeclined {
		subject = fmt.Sprintf("Invoice #%s was declined by policy", number)
	}

	data := struct {
		Supplier       string
		Number         string
		Date           string
		Total          string
		BusinessReason string
		Reason         string
		ReviewURL      string
	}{
		Supplier:       entity.StringValue(inv.Extraction.SupplierName),
		Number:         number,
		BusinessReason: inv.BusinessReason,
		Reason:         req.Decision.Reason,
		ReviewURL:      req.ReviewURL,
	}
	if inv.Extraction.InvoiceDate != nil {
		data.Date = inv.Extraction.InvoiceDate.Format("2006-01-02")
	}
	if inv.Extraction.TotalAmount != nil {
		data.Total = strings.TrimSpace(inv.Extraction.TotalAmount.String() + " " + entity.StringValue(inv.Extraction.Currency))
	}

	var buf bytes.Buffer
	if err := reviewTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render review e-mail: %w", err)
	}
	return &Rendered{Subject: subject, HTML: buf.String()}, nil
}

func orHash(s string) string {
	if s == "" {
		return "#"
	}
	return s
}
