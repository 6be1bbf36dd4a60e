package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-approval/internal/infrastructure/external/sendgrid"
)

// EmailSender delivers approval e-mails built from an explicit payload
type EmailSender interface {
	SendPayload(ctx context.Context, to, templateID string, payload *sendgrid.ApprovalEmailPayload) (*sendgrid.SendResult, error)
}

// PreviewApprovalEmail handles POST /api/emails/approval/preview
func (h *Handlers) PreviewApprovalEmail(c *gin.Context) {
	var payload sendgrid.ApprovalEmailPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid payload: " + err.Error(),
		})
		return
	}

	rendered, err := sendgrid.Render(&payload)
	if err != nil {
		h.logger.Error("Failed to render approval e-mail", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to render e-mail",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rendered,
	})
}

// SendApprovalEmail handles POST /api/emails/approval/send?to=&template_id=
func (h *Handlers) SendApprovalEmail(c *gin.Context) {
	var payload sendgrid.ApprovalEmailPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid payload: " + err.Error(),
		})
		return
	}

	to := c.Query("to")
	if to == "" {
		to = h.defaultRecipient
	}

	result, err := h.emails.SendPayload(c.Request.Context(), to, c.Query("template_id"), &payload)
	if err != nil {
		h.logger.Error("Failed to send approval e-mail", "to", to, "error", err)
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// Verify interface compliance
var _ EmailSender = (*sendgrid.Mailer)(nil)
