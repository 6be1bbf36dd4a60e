package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	submissions      service.SubmissionService
	invoices         service.InvoiceService
	approvals        service.ApprovalService
	emails           EmailSender
	ping             func(ctx context.Context) error
	defaultRecipient string
	logger           Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, defaultRecipient string, logger Logger) *Handlers {
	return &Handlers{
		submissions:      services.Submissions,
		invoices:         services.Invoices,
		approvals:        services.Approvals,
		emails:           services.Emails,
		ping:             services.Ping,
		defaultRecipient: defaultRecipient,
		logger:           logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DuplicateResponse identifies the earlier submission of a rejected upload
type DuplicateResponse struct {
	ExistingInvoiceID int64  `json:"existing_invoice_id"`
	Fingerprint       string `json:"file_sha256"`
}

// ListRequest represents paging query parameters
type ListRequest struct {
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
	Status string `form:"status"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			response.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, Response{
				Success: false,
				Data:    response,
				Error:   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// SubmitInvoice handles POST /extract
func (h *Handlers) SubmitInvoice(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "file is required",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unreadable upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, entity.MaxUploadBytes+1))
	if err != nil {
		h.logger.Error("Failed to read upload", "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unreadable upload"})
		return
	}

	upload := &service.Upload{
		Filename:       fileHeader.Filename,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Data:           data,
		SubmitterName:  c.PostForm("submitter_name"),
		SubmitterEmail: c.PostForm("submitter_email"),
		SubmitterTeam:  c.PostForm("submitter_team"),
		BusinessReason: c.PostForm("business_reason"),
		Force:          truthy(c.PostForm("force")) || truthy(c.Query("force")),
	}

	result, err := h.submissions.Submit(c.Request.Context(), upload)
	if err != nil {
		var dup *service.DuplicateError
		if errors.As(err, &dup) {
			c.JSON(http.StatusConflict, Response{
				Success: false,
				Data:    DuplicateResponse{ExistingInvoiceID: dup.ExistingInvoiceID, Fingerprint: dup.Fingerprint},
				Error:   err.Error(),
			})
			return
		}
		h.logger.Error("Submission failed", "filename", upload.Filename, "error", err)
		resp := Response{Success: false, Error: err.Error()}
		if result != nil {
			// the invoice was stored but could not be routed
			resp.Data = result
		}
		c.JSON(statusFor(err), resp)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// ListInvoices handles GET /api/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	req, ok := h.bindList(c)
	if !ok {
		return
	}

	invoices, err := h.invoices.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list invoices", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve invoices",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    invoices,
	})
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	id, ok := h.parseID(c, "invoice")
	if !ok {
		return
	}

	invoice, err := h.invoices.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get invoice", err, "id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    invoice,
	})
}

// ExportInvoices handles GET /api/invoices/export
func (h *Handlers) ExportInvoices(c *gin.Context) {
	var buf bytes.Buffer
	rows, err := h.invoices.Export(c.Request.Context(), &buf)
	if err != nil {
		h.logger.Error("Export failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "export failed",
		})
		return
	}

	filename := fmt.Sprintf("invoices-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Export-Rows", strconv.Itoa(rows))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// StartApproval handles POST /api/approvals/start?invoice_id=
func (h *Handlers) StartApproval(c *gin.Context) {
	raw := c.Query("invoice_id")
	if raw == "" {
		raw = c.PostForm("invoice_id")
	}
	invoiceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || invoiceID <= 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid invoice ID",
		})
		return
	}

	result, err := h.approvals.Start(c.Request.Context(), invoiceID)
	if err != nil {
		h.respondError(c, "Failed to start approval", err, "invoice_id", invoiceID)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// ListApprovals handles GET /api/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	req, ok := h.bindList(c)
	if !ok {
		return
	}

	approvals, err := h.approvals.List(c.Request.Context(), port.ApprovalFilter{
		Status: strings.TrimSpace(req.Status),
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		h.logger.Error("Failed to list approvals", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve approvals",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    approvals,
	})
}

// GetApproval handles GET /api/approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	id, ok := h.parseID(c, "approval")
	if !ok {
		return
	}

	approval, err := h.approvals.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get approval", err, "id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    approval,
	})
}

func (h *Handlers) bindList(c *gin.Context) (ListRequest, bool) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return req, false
	}

	// Set defaults
	if c.Query("limit") == "" {
		req.Limit = service.DefaultListLimit
	}
	req.Limit = service.ClampLimit(req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}
	return req, true
}

func (h *Handlers) parseID(c *gin.Context, kind string) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid "+kind+" ID", "id", idStr)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid " + kind + " ID",
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) respondError(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(keysAndValues, "error", err)...)
	}
	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateFile), errors.Is(err, service.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, service.ErrReasonRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
