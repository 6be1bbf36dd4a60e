package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

// messageCreator is the subset of the Lark IM API used by the messenger
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Messenger implements port.Notifier by sending Lark text messages addressed by e-mail
type Messenger struct {
	messages messageCreator
	logger   *zap.Logger
}

// NewMessenger creates a Lark messenger backed by the SDK client
func NewMessenger(cfg Config, logger *zap.Logger) *Messenger {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}

	client := lark.NewClient(cfg.AppID, cfg.AppSecret, opts...)
	return &Messenger{
		messages: client.Im.Message,
		logger:   logger,
	}
}

// NotifyApprover sends the review request to the approver's Lark account
func (m *Messenger) NotifyApprover(ctx context.Context, req *port.ReviewRequest) error {
	if req == nil || req.Invoice == nil || req.Approval == nil {
		return errors.New("review request is incomplete")
	}
	if req.Approver.Email == "" {
		return errors.New("approver e-mail cannot be empty")
	}

	body, err := messageBody(req)
	if err != nil {
		return err
	}
	msgReq := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeEmail).
		Body(body).
		Build()

	resp, err := m.messages.Create(ctx, msgReq)
	if err != nil {
		m.logger.Error("Failed to send Lark message",
			zap.String("receive_id", req.Approver.Email),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("Lark API returned failure",
			zap.String("receive_id", req.Approver.Email),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Lark message sent",
		zap.String("message_id", messageID),
		zap.Int64("approval_id", req.Approval.ID))
	return nil
}

// messageBody addresses a text message to the approver's e-mail
func messageBody(req *port.ReviewRequest) (*larkim.CreateMessageReqBody, error) {
	content, err := json.Marshal(map[string]string{"text": MessageText(req)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message content: %w", err)
	}
	return larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(req.Approver.Email).
		MsgType(larkim.MsgTypeText).
		Content(string(content)).
		Build(), nil
}

// MessageText renders the plain-text review request
func MessageText(req *port.ReviewRequest) string {
	inv := req.Invoice
	var sb strings.Builder

	if req.Decision.Outcome == entity.OutcomeDeclined {
		fmt.Fprintf(&sb, "Invoice #%s was declined by policy.\n", inv.DisplayNumber())
	} else {
		fmt.Fprintf(&sb, "Invoice #%s requires your approval", inv.DisplayNumber())
		if tier := req.Decision.Tier(); tier != "" {
			fmt.Fprintf(&sb, " (%s)", tier.Label())
		}
		sb.WriteString(".\n")
	}

	if entity.HasText(inv.Extraction.SupplierName) {
		fmt.Fprintf(&sb, "Supplier: %s\n", *inv.Extraction.SupplierName)
	}
	if inv.Extraction.TotalAmount != nil {
		fmt.Fprintf(&sb, "Total: %s %s\n", inv.Extraction.TotalAmount.String(), entity.StringValue(inv.Extraction.Currency))
	}
	if inv.BusinessReason != "" {
		fmt.Fprintf(&sb, "Business reason: %s\n", inv.BusinessReason)
	}
	if req.Decision.Reason != "" {
		fmt.Fprintf(&sb, "Routing: %s\n", req.Decision.Reason)
	}
	if req.ReviewURL != "" {
		fmt.Fprintf(&sb, "Review: %s", req.ReviewURL)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// Verify interface compliance
var _ port.Notifier = (*Messenger)(nil)
