package http

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

var pageTemplates = template.Must(template.New("review").Funcs(template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Invoice {{.Number}} review</title>
<style>
body{font-family:Inter,Arial,sans-serif;color:#1f2937;max-width:760px;margin:32px auto;padding:0 16px}
.card{border:1px solid #e5e7eb;border-radius:8px;padding:16px;margin-bottom:16px}
.success{background:#ecfdf5;border-color:#10b981}
.error{background:#fef2f2;border-color:#ef4444}
table{border-collapse:collapse;width:100%}
td,th{border-bottom:1px solid #e5e7eb;padding:6px;text-align:left}
</style>
</head>
<body>
<h1>Invoice {{.Number}}</h1>
{{if .Message}}<div class="card {{.MessageType}}">{{.Message}}</div>{{end}}
<div class="card">
  <div>Supplier: {{.Supplier}}</div>
  <div>Date: {{.Date}}</div>
  <div>Total: {{.Total}} {{.Currency}}</div>
  {{if .Invoice.SubmitterName}}<div>Submitted by: {{.Invoice.SubmitterName}}{{if .Invoice.SubmitterEmail}} &lt;{{.Invoice.SubmitterEmail}}&gt;{{end}}</div>{{end}}
  {{if .Invoice.BusinessReason}}<div>Business reason: {{.Invoice.BusinessReason}}</div>{{end}}
  {{if .Invoice.Extraction.LineItems}}
  <table>
    <tr><th>Description</th><th>Qty</th><th>Unit price</th><th>Total</th></tr>
    {{range .Invoice.Extraction.LineItems}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>{{end}}
  </table>
  {{end}}
</div>
<div class="card">
  <h3>Policy assessment</h3>
  <div>Status: {{.Approval.Status}}{{if .Approval.ApproverTier}} ({{.Approval.ApproverTier}}){{end}}</div>
  {{if .Approval.ModelDecision}}<div>Model opinion: {{.Approval.ModelDecision}}{{if .Confidence}} at {{.Confidence}} confidence{{end}}</div>{{end}}
  {{if .ProposedReason}}<p>{{.ProposedReason}}</p>{{end}}
  {{if .Approval.PolicyCitations}}<ul>{{range .Approval.PolicyCitations}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if not .CanDecide}}<p>Decided by {{.Approval.DecidedBy}}: {{.Approval.Reason}}</p>{{end}}
</div>
{{if .CanDecide}}
<form class="card" method="post" action="/approvals/{{.Approval.ID}}/decide">
  <input type="hidden" name="token" value="{{.Token}}">
  <label for="reason">Reason</label><br>
  <textarea id="reason" name="reason" rows="3" cols="60" required></textarea><br><br>
  {{range .Actions}}<button type="submit" name="action" value="{{.}}">{{title .}}</button>
  {{end}}
</form>
{{end}}
</body>
</html>`))

// reviewPage is the data behind the approver review page
type reviewPage struct {
	*service.ReviewView
	Number         string
	Supplier       string
	Date           string
	Total          string
	Currency       string
	Confidence     string
	ProposedReason string
	CanDecide      bool
	Message        string
	MessageType    string
}

func newReviewPage(view *service.ReviewView, message, messageType string) reviewPage {
	ext := view.Invoice.Extraction
	page := reviewPage{
		ReviewView:  view,
		Number:      view.Invoice.DisplayNumber(),
		Supplier:    entity.StringValue(ext.SupplierName),
		Currency:    entity.StringValue(ext.Currency),
		CanDecide:   len(view.Actions) > 0,
		Message:     message,
		MessageType: messageType,
	}
	if ext.InvoiceDate != nil {
		page.Date = ext.InvoiceDate.Format("2006-01-02")
	}
	if ext.TotalAmount != nil {
		page.Total = ext.TotalAmount.String()
	}
	if c := view.Approval.ModelConfidence; c != nil {
		page.Confidence = fmt.Sprintf("%.0f%%", *c*100)
	}
	// a human decision overwrites the routing reason
	if view.Approval.DecidedBy == entity.DecidedByAuto {
		page.ProposedReason = view.Approval.Reason
	}
	return page
}

// ReviewPage handles GET /approvals/:id/review?token=
func (h *Handlers) ReviewPage(c *gin.Context) {
	id, ok := h.parseID(c, "approval")
	if !ok {
		return
	}

	view, err := h.approvals.Review(c.Request.Context(), id, c.Query("token"))
	if err != nil {
		h.respondPageError(c, err, id)
		return
	}

	message, messageType := c.Query("message"), c.Query("message_type")
	if e := c.Query("error"); e != "" {
		message, messageType = e, "error"
	} else if message != "" && messageType == "" {
		messageType = "success"
	}

	c.HTML(http.StatusOK, "review", newReviewPage(view, message, messageType))
}

// DecideRedirect handles GET /approvals/:id/decide from older e-mail links
func (h *Handlers) DecideRedirect(c *gin.Context) {
	id, ok := h.parseID(c, "approval")
	if !ok {
		return
	}
	c.Redirect(http.StatusSeeOther, reviewLocation(id, c.Query("token"), nil))
}

// Decide handles POST /approvals/:id/decide
func (h *Handlers) Decide(c *gin.Context) {
	id, ok := h.parseID(c, "approval")
	if !ok {
		return
	}
	token := c.PostForm("token")

	approval, err := h.approvals.Decide(c.Request.Context(), id, token, c.PostForm("action"), c.PostForm("reason"))
	switch {
	case err == nil:
		c.Redirect(http.StatusSeeOther, reviewLocation(id, token, url.Values{
			"message":      {fmt.Sprintf("Invoice has been %s successfully!", approval.Status)},
			"message_type": {"success"},
		}))
	case errors.Is(err, service.ErrAlreadyDecided):
		status := "decided"
		if approval != nil {
			status = approval.Status
		}
		c.Redirect(http.StatusSeeOther, reviewLocation(id, token, url.Values{
			"message": {"This approval has already been " + status},
		}))
	case errors.Is(err, service.ErrReasonRequired):
		c.Redirect(http.StatusSeeOther, reviewLocation(id, token, url.Values{
			"error": {"Reason is required"},
		}))
	default:
		h.respondPageError(c, err, id)
	}
}

func (h *Handlers) respondPageError(c *gin.Context, err error, id int64) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Review request failed", "approval_id", id, "error", err)
	}

	msg := err.Error()
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		msg = "invalid or expired review link"
	case errors.Is(err, service.ErrNotFound):
		msg = "approval not found"
	case status >= http.StatusInternalServerError:
		msg = "internal server error"
	}
	c.String(status, msg)
}

func reviewLocation(id int64, token string, extra url.Values) string {
	q := url.Values{}
	q.Set("token", token)
	for k, v := range extra {
		q[k] = v
	}
	return fmt.Sprintf("/approvals/%d/review?%s", id, q.Encode())
}
