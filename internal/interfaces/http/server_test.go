package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/sendgrid"
)

type testDeps struct {
	submissions *mockSubmissionService
	invoices    *mockInvoiceService
	approvals   *mockApprovalService
	emails      *mockEmailSender
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		submissions: &mockSubmissionService{},
		invoices:    &mockInvoiceService{},
		approvals:   &mockApprovalService{},
		emails:      &mockEmailSender{},
	}
	cfg := DefaultServerConfig()
	cfg.DefaultRecipient = "approvals@example.com"
	srv := NewServer(cfg, Services{
		Submissions: deps.submissions,
		Invoices:    deps.invoices,
		Approvals:   deps.approvals,
		Emails:      deps.emails,
	}, &mockLogger{})
	return srv, deps
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func uploadRequest(t *testing.T, fields map[string]string, withFile bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if withFile {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="acme.pdf"`)
		h.Set("Content-Type", "application/pdf")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 test"))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthCheck_RequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.True(t, decode(t, rec).Success)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = do(srv, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), Services{
		Ping: func(ctx context.Context) error { return io.ErrClosedPipe },
	}, &mockLogger{})

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestRecovery(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.invoices.getFunc = func(ctx context.Context, id int64) (*entity.Invoice, error) {
		panic("boom")
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec).Error)
}

func TestSubmitInvoice(t *testing.T) {
	srv, deps := newTestServer(t)

	var got *service.Upload
	deps.submissions.submitFunc = func(ctx context.Context, upload *service.Upload) (*service.SubmitResult, error) {
		got = upload
		return &service.SubmitResult{
			Invoice: &entity.Invoice{ID: 5, Filename: upload.Filename},
			Verdict: &service.DuplicateVerdict{Kind: service.VerdictUnique},
		}, nil
	}

	rec := do(srv, uploadRequest(t, map[string]string{
		"submitter_name":  "Ada",
		"submitter_email": "ada@example.com",
		"business_reason": "conference",
		"force":           "true",
	}, true))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "acme.pdf", got.Filename)
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, []byte("%PDF-1.4 test"), got.Data)
	assert.Equal(t, "Ada", got.SubmitterName)
	assert.Equal(t, "conference", got.BusinessReason)
	assert.True(t, got.Force)
	assert.True(t, decode(t, rec).Success)
}

func TestSubmitInvoice_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"duplicate", &service.DuplicateError{ExistingInvoiceID: 3, Fingerprint: "abc"}, http.StatusConflict},
		{"media type", service.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{"too large", service.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"bad email", service.ErrInvalidInput, http.StatusBadRequest},
		{"storage", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := newTestServer(t)
			deps.submissions.submitFunc = func(ctx context.Context, upload *service.Upload) (*service.SubmitResult, error) {
				return nil, tt.err
			}

			rec := do(srv, uploadRequest(t, nil, true))
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmitInvoice_DuplicateCarriesExistingID(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.submissions.submitFunc = func(ctx context.Context, upload *service.Upload) (*service.SubmitResult, error) {
		return nil, &service.DuplicateError{ExistingInvoiceID: 3, Fingerprint: "abc"}
	}

	rec := do(srv, uploadRequest(t, nil, true))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"existing_invoice_id":3`)
}

func TestSubmitInvoice_MissingFile(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, uploadRequest(t, map[string]string{"submitter_name": "Ada"}, false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file is required", decode(t, rec).Error)
}

func TestListInvoices_Paging(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", service.DefaultListLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", service.MaxListLimit, 0},
		{"?limit=0", 1, 0},
		{"?offset=-4", service.DefaultListLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			srv, deps := newTestServer(t)
			var limit, offset int
			deps.invoices.listFunc = func(ctx context.Context, l, o int) ([]*entity.Invoice, error) {
				limit, offset = l, o
				return []*entity.Invoice{{ID: 1}}, nil
			}

			rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestListInvoices_BadQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices?limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetInvoice(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.invoices.getFunc = func(ctx context.Context, id int64) (*entity.Invoice, error) {
		if id == 9 {
			return &entity.Invoice{ID: 9, Filename: "nine.pdf"}, nil
		}
		return nil, service.ErrNotFound
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices/9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nine.pdf")

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices/10", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportInvoices(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.invoices.exportFunc = func(ctx context.Context, w io.Writer) (int, error) {
		_, err := w.Write([]byte("xlsx-bytes"))
		return 2, err
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/invoices/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "invoices-")
	assert.Equal(t, "2", rec.Header().Get("X-Export-Rows"))
	assert.Equal(t, "xlsx-bytes", rec.Body.String())
}

func TestStartApproval(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.approvals.startFunc = func(ctx context.Context, invoiceID int64) (*service.RoutingResult, error) {
		if invoiceID != 4 {
			return nil, service.ErrNotFound
		}
		return &service.RoutingResult{
			Approval: &entity.Approval{ID: 8, InvoiceID: 4, Status: string(entity.OutcomeAutoApproved)},
			Decision: entity.RoutingDecision{Outcome: entity.OutcomeAutoApproved},
		}, nil
	}

	rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/approvals/start?invoice_id=4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"auto_approved"`)

	rec = do(srv, httptest.NewRequest(http.MethodPost, "/api/approvals/start?invoice_id=5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodPost, "/api/approvals/start", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListApprovals_StatusFilter(t *testing.T) {
	srv, deps := newTestServer(t)
	var got port.ApprovalFilter
	deps.approvals.listFunc = func(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error) {
		got = filter
		return nil, nil
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/approvals?status=pending_manager&limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, port.ApprovalFilter{Status: "pending_manager", Limit: 3}, got)
}

func TestGetApproval(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.approvals.getFunc = func(ctx context.Context, id int64) (*entity.Approval, error) {
		return nil, service.ErrNotFound
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/approvals/77", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func reviewView(status string) *service.ReviewView {
	var actions []string
	if entity.Outcome(status).IsPending() {
		actions = []string{service.ActionApprove, service.ActionDecline}
	}
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	confidence := 0.82
	return &service.ReviewView{
		Approval: &entity.Approval{
			ID:              12,
			InvoiceID:       4,
			Status:          status,
			ApproverTier:    string(entity.TierManager),
			Reason:          "amount above auto-approve ceiling",
			DecidedBy:       entity.DecidedByAuto,
			ModelDecision:   "approved",
			ModelConfidence: &confidence,
			PolicyCitations: []string{"Section 2.1"},
		},
		Invoice: &entity.Invoice{
			ID: 4,
			Extraction: entity.ExtractionResult{
				SupplierName:  entity.StringPtr("Acme <Corp>"),
				InvoiceNumber: entity.StringPtr("INV-77"),
				InvoiceDate:   &date,
				TotalAmount:   entity.AmountPtr(150000),
				Currency:      entity.StringPtr("USD"),
			},
		},
		Token:   "tok",
		Actions: actions,
	}
}

func TestReviewPage(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.approvals.reviewFunc = func(ctx context.Context, id int64, token string) (*service.ReviewView, error) {
		if token != "tok" {
			return nil, service.ErrInvalidToken
		}
		return reviewView(string(entity.OutcomePendingManager)), nil
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/approvals/12/review?token=tok&error=Reason+is+required", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Invoice INV-77")
	assert.Contains(t, body, "Acme &lt;Corp&gt;")
	assert.Contains(t, body, "1500.00 USD")
	assert.Contains(t, body, "82%")
	assert.Contains(t, body, "Section 2.1")
	assert.Contains(t, body, `action="/approvals/12/decide"`)
	assert.Contains(t, body, `value="approve">Approve</button>`)
	assert.Contains(t, body, `value="decline">Decline</button>`)
	assert.Contains(t, body, `class="card error"`)
	assert.Contains(t, body, "Reason is required")

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/approvals/12/review?token=bad", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid or expired review link", rec.Body.String())
}

func TestReviewPage_DecidedHidesForm(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.approvals.reviewFunc = func(ctx context.Context, id int64, token string) (*service.ReviewView, error) {
		view := reviewView(entity.StatusApproved)
		view.Approval.DecidedBy = "human:boss@example.com"
		view.Approval.Reason = "fine"
		return view, nil
	}

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/approvals/12/review?token=tok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<form")
	assert.Contains(t, rec.Body.String(), "Decided by human:boss@example.com: fine")
	assert.NotContains(t, rec.Body.String(), "amount above auto-approve ceiling")
}

func TestDecideRedirect(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/approvals/12/decide?action=approve&token=tok", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/approvals/12/review?token=tok", rec.Header().Get("Location"))
}

func decideRequest(action, token, reason string) *http.Request {
	form := url.Values{"action": {action}, "token": {token}, "reason": {reason}}
	req := httptest.NewRequest(http.MethodPost, "/approvals/12/decide", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		approval     *entity.Approval
		err          error
		wantStatus   int
		wantLocation map[string]string
		wantBody     string
	}{
		{
			name:       "approved",
			approval:   &entity.Approval{ID: 12, Status: entity.StatusApproved},
			wantStatus: http.StatusSeeOther,
			wantLocation: map[string]string{
				"message":      "Invoice has been approved successfully!",
				"message_type": "success",
			},
		},
		{
			name:         "already decided",
			approval:     &entity.Approval{ID: 12, Status: entity.StatusDeclined},
			err:          service.ErrAlreadyDecided,
			wantStatus:   http.StatusSeeOther,
			wantLocation: map[string]string{"message": "This approval has already been declined"},
		},
		{
			name:         "missing reason",
			err:          service.ErrReasonRequired,
			wantStatus:   http.StatusSeeOther,
			wantLocation: map[string]string{"error": "Reason is required"},
		},
		{
			name:       "bad action",
			err:        service.ErrInvalidAction,
			wantStatus: http.StatusBadRequest,
			wantBody:   service.ErrInvalidAction.Error(),
		},
		{
			name:       "bad token",
			err:        service.ErrInvalidToken,
			wantStatus: http.StatusForbidden,
			wantBody:   "invalid or expired review link",
		},
		{
			name:       "missing approval",
			err:        service.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "approval not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := newTestServer(t)
			deps.approvals.decideFunc = func(ctx context.Context, id int64, token, action, reason string) (*entity.Approval, error) {
				assert.Equal(t, int64(12), id)
				assert.Equal(t, "tok", token)
				assert.Equal(t, "approve", action)
				assert.Equal(t, "looks right", reason)
				return tt.approval, tt.err
			}

			rec := do(srv, decideRequest("approve", "tok", "looks right"))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantLocation != nil {
				loc, err := url.Parse(rec.Header().Get("Location"))
				require.NoError(t, err)
				assert.Equal(t, "/approvals/12/review", loc.Path)
				assert.Equal(t, "tok", loc.Query().Get("token"))
				for k, v := range tt.wantLocation {
					assert.Equal(t, v, loc.Query().Get(k), k)
				}
			}
		})
	}
}

func TestPreviewApprovalEmail(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"preheader":"Invoice 7 requires your approval","invoice":{"number":7,"amount":12.5,"vendor":"Acme"},"approver_name":"Mia"}`
	rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/emails/approval/preview", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data sendgrid.Rendered `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invoice 7 requires your approval", resp.Data.Subject)
	assert.Contains(t, resp.Data.HTML, "Acme")

	rec = do(srv, httptest.NewRequest(http.MethodPost, "/api/emails/approval/preview", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendApprovalEmail(t *testing.T) {
	srv, deps := newTestServer(t)

	var to, templateID string
	deps.emails.sendFunc = func(ctx context.Context, recipient, tmpl string, payload *sendgrid.ApprovalEmailPayload) (*sendgrid.SendResult, error) {
		to, templateID = recipient, tmpl
		if recipient == "broken@example.com" {
			return nil, io.ErrClosedPipe
		}
		return &sendgrid.SendResult{Status: "sent", To: recipient}, nil
	}

	rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/emails/approval/send", strings.NewReader(`{"approver_name":"Mia"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approvals@example.com", to)
	assert.Empty(t, templateID)

	rec = do(srv, httptest.NewRequest(http.MethodPost,
		"/api/emails/approval/send?to=cfo@example.com&template_id=d-123", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cfo@example.com", to)
	assert.Equal(t, "d-123", templateID)

	rec = do(srv, httptest.NewRequest(http.MethodPost,
		"/api/emails/approval/send?to=broken@example.com", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
