package http

import (
	"context"
	"io"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/sendgrid"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockSubmissionService struct {
	submitFunc func(ctx context.Context, upload *service.Upload) (*service.SubmitResult, error)
}

func (m *mockSubmissionService) Submit(ctx context.Context, upload *service.Upload) (*service.SubmitResult, error) {
	return m.submitFunc(ctx, upload)
}

type mockInvoiceService struct {
	listFunc   func(ctx context.Context, limit, offset int) ([]*entity.Invoice, error)
	getFunc    func(ctx context.Context, id int64) (*entity.Invoice, error)
	exportFunc func(ctx context.Context, w io.Writer) (int, error)
}

func (m *mockInvoiceService) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	return m.listFunc(ctx, limit, offset)
}

func (m *mockInvoiceService) Get(ctx context.Context, id int64) (*entity.Invoice, error) {
	return m.getFunc(ctx, id)
}

func (m *mockInvoiceService) Export(ctx context.Context, w io.Writer) (int, error) {
	return m.exportFunc(ctx, w)
}

func (m *mockInvoiceService) Clear(ctx context.Context) (*service.ClearResult, error) {
	return &service.ClearResult{}, nil
}

type mockApprovalService struct {
	startFunc  func(ctx context.Context, invoiceID int64) (*service.RoutingResult, error)
	listFunc   func(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error)
	getFunc    func(ctx context.Context, id int64) (*entity.Approval, error)
	reviewFunc func(ctx context.Context, id int64, token string) (*service.ReviewView, error)
	decideFunc func(ctx context.Context, id int64, token, action, reason string) (*entity.Approval, error)
}

func (m *mockApprovalService) Route(ctx context.Context, invoice *entity.Invoice, opts ...service.RouteOption) (*service.RoutingResult, error) {
	return nil, nil
}

func (m *mockApprovalService) Start(ctx context.Context, invoiceID int64) (*service.RoutingResult, error) {
	return m.startFunc(ctx, invoiceID)
}

func (m *mockApprovalService) List(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockApprovalService) Get(ctx context.Context, id int64) (*entity.Approval, error) {
	return m.getFunc(ctx, id)
}

func (m *mockApprovalService) Review(ctx context.Context, id int64, token string) (*service.ReviewView, error) {
	return m.reviewFunc(ctx, id, token)
}

func (m *mockApprovalService) Decide(ctx context.Context, id int64, token, action, reason string) (*entity.Approval, error) {
	return m.decideFunc(ctx, id, token, action, reason)
}

type mockEmailSender struct {
	sendFunc func(ctx context.Context, to, templateID string, payload *sendgrid.ApprovalEmailPayload) (*sendgrid.SendResult, error)
}

func (m *mockEmailSender) SendPayload(ctx context.Context, to, templateID string, payload *sendgrid.ApprovalEmailPayload) (*sendgrid.SendResult, error) {
	return m.sendFunc(ctx, to, templateID, payload)
}
