package sendgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/invoice-approval/internal/application/port"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Config holds SendGrid configuration
type Config struct {
	APIKey     string
	FromEmail  string
	FromName   string
	TemplateID string
	// Endpoint overrides the mail send URL, e.g. for the EU data residency host
	Endpoint string
	BaseURL  string
	Brand    Brand
	Footer   Footer
}

// SendResult describes the outcome of a send attempt
type SendResult struct {
	Status string `json:"status"`
	To     string `json:"to,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Mailer implements port.Notifier using the SendGrid v3 mail API
type Mailer struct {
	cfg    Config
	client *sg.Client
	logger *zap.Logger
}

// NewMailer creates a new SendGrid mailer
func NewMailer(cfg Config, logger *zap.Logger) *Mailer {
	client := sg.NewSendClient(cfg.APIKey)
	if cfg.Endpoint != "" {
		client.BaseURL = cfg.Endpoint
	}
	return &Mailer{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Configured reports whether e-mails can actually be sent
func (m *Mailer) Configured() bool {
	return m.cfg.APIKey != "" && m.cfg.FromEmail != ""
}

// NotifyApprover e-mails a review request. Without SendGrid credentials the message is
// logged instead of sent.
func (m *Mailer) NotifyApprover(ctx context.Context, req *port.ReviewRequest) error {
	if req == nil || req.Invoice == nil || req.Approval == nil {
		return errors.New("review request is incomplete")
	}
	to := req.Approver.Email
	if to == "" {
		return errors.New("approver e-mail cannot be empty")
	}

	if !m.Configured() {
		m.logger.Warn("SendGrid not configured; logging approval e-mail instead",
			zap.Int64("approval_id", req.Approval.ID),
			zap.String("to", to),
			zap.String("review_url", req.ReviewURL),
			zap.String("reason", req.Decision.Reason))
		return nil
	}

	var message *mail.SGMailV3
	if m.cfg.TemplateID != "" {
		payload := BuildPayload(req, m.cfg.Brand, m.cfg.Footer, m.cfg.BaseURL)
		var err error
		if message, err = m.templateMessage(to, req.Approver.Name, m.cfg.TemplateID, payload); err != nil {
			return err
		}
	} else {
		rendered, err := RenderReview(req)
		if err != nil {
			return err
		}
		message = m.htmlMessage(to, req.Approver.Name, rendered)
	}

	if err := m.send(ctx, message); err != nil {
		return err
	}

	m.logger.Info("Approval e-mail sent",
		zap.Int64("approval_id", req.Approval.ID),
		zap.String("to", to),
		zap.Bool("template", m.cfg.TemplateID != ""))
	return nil
}

// SendPayload sends an approval e-mail built from an explicit payload. templateID
// overrides the configured template; without any template the branded HTML is used.
func (m *Mailer) SendPayload(ctx context.Context, to, templateID string, payload *ApprovalEmailPayload) (*SendResult, error) {
	if !m.Configured() || to == "" {
		return &SendResult{Status: "skipped", To: to, Note: "SendGrid or recipient not configured"}, nil
	}
	if templateID == "" {
		templateID = m.cfg.TemplateID
	}

	var message *mail.SGMailV3
	if templateID != "" {
		var err error
		if message, err = m.templateMessage(to, "", templateID, payload); err != nil {
			return nil, err
		}
	} else {
		rendered, err := Render(payload)
		if err != nil {
			return nil, err
		}
		message = m.htmlMessage(to, "", rendered)
	}

	if err := m.send(ctx, message); err != nil {
		return nil, err
	}
	return &SendResult{Status: "sent", To: to}, nil
}

func (m *Mailer) templateMessage(to, name, templateID string, payload *ApprovalEmailPayload) (*mail.SGMailV3, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template data: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode template data: %w", err)
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(name, to))
	for key, value := range fields {
		p.SetDynamicTemplateData(key, value)
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(m.cfg.FromName, m.cfg.FromEmail))
	message.SetTemplateID(templateID)
	message.AddPersonalizations(p)
	return message, nil
}

func (m *Mailer) htmlMessage(to, name string, rendered *Rendered) *mail.SGMailV3 {
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(name, to))

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(m.cfg.FromName, m.cfg.FromEmail))
	message.Subject = rendered.Subject
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/html", rendered.HTML))
	return message
}

func (m *Mailer) send(ctx context.Context, message *mail.SGMailV3) error {
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		m.logger.Error("SendGrid request failed", zap.Error(err))
		return fmt.Errorf("failed to send e-mail: %w", err)
	}
	if resp.StatusCode >= 300 {
		m.logger.Error("SendGrid rejected e-mail",
			zap.Int("status", resp.StatusCode),
			zap.String("body", resp.Body))
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*Mailer)(nil)
