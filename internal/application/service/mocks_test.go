package service

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// memoryStore is an in-memory invoice/approval store shared by the repository mocks
type memoryStore struct {
	mu        sync.Mutex
	invoices  []*entity.Invoice
	approvals []*entity.Approval
	// lookupDelay widens the check-and-record window in concurrency tests
	lookupDelay time.Duration
}

type mockInvoiceRepo struct {
	store      *memoryStore
	createFunc func(ctx context.Context, invoice *entity.Invoice) error
}

func (m *mockInvoiceRepo) Create(ctx context.Context, invoice *entity.Invoice) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, invoice)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	invoice.ID = int64(len(m.store.invoices) + 1)
	copied := *invoice
	m.store.invoices = append(m.store.invoices, &copied)
	return nil
}

func (m *mockInvoiceRepo) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, inv := range m.store.invoices {
		if inv.ID == id {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockInvoiceRepo) List(ctx context.Context, limit, offset int) ([]*entity.Invoice, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*entity.Invoice
	for i := len(m.store.invoices) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.store.invoices[i])
	}
	return out, nil
}

func (m *mockInvoiceRepo) UpdateApprovalStatus(ctx context.Context, id int64, status string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, inv := range m.store.invoices {
		if inv.ID == id {
			inv.ApprovalStatus = status
		}
	}
	return nil
}

func (m *mockInvoiceRepo) DeleteAll(ctx context.Context) (int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	n := int64(len(m.store.invoices))
	m.store.invoices = nil
	return n, nil
}

func (m *mockInvoiceRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Invoice, error) {
	m.pause()
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i := len(m.store.invoices) - 1; i >= 0; i-- {
		if m.store.invoices[i].FileSHA256 == fingerprint {
			return m.store.invoices[i], nil
		}
	}
	return nil, nil
}

func (m *mockInvoiceRepo) FindByLogicalKey(ctx context.Context, logicalKey string) (*entity.Invoice, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i := len(m.store.invoices) - 1; i >= 0; i-- {
		if m.store.invoices[i].LogicalKey == logicalKey {
			return m.store.invoices[i], nil
		}
	}
	return nil, nil
}

func (m *mockInvoiceRepo) pause() {
	if m.store.lookupDelay > 0 {
		time.Sleep(m.store.lookupDelay)
	}
}

type mockApprovalRepo struct {
	store              *memoryStore
	priorCases         []entity.PriorCase
	priorErr           error
	createErr          error
	recordDecisionFunc func(ctx context.Context, id int64, status, reason, decidedBy string) (bool, error)
}

func (m *mockApprovalRepo) Create(ctx context.Context, approval *entity.Approval) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	approval.ID = int64(len(m.store.approvals) + 1)
	copied := *approval
	m.store.approvals = append(m.store.approvals, &copied)
	return nil
}

func (m *mockApprovalRepo) find(id int64) *entity.Approval {
	for _, a := range m.store.approvals {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *mockApprovalRepo) GetByID(ctx context.Context, id int64) (*entity.Approval, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if a := m.find(id); a != nil {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *mockApprovalRepo) GetLatestByInvoiceID(ctx context.Context, invoiceID int64) (*entity.Approval, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i := len(m.store.approvals) - 1; i >= 0; i-- {
		if m.store.approvals[i].InvoiceID == invoiceID {
			copied := *m.store.approvals[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockApprovalRepo) List(ctx context.Context, filter port.ApprovalFilter) ([]*entity.Approval, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*entity.Approval
	for i := len(m.store.approvals) - 1; i >= 0; i-- {
		a := m.store.approvals[i]
		if filter.Status == "" || a.Status == filter.Status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockApprovalRepo) SetLinkToken(ctx context.Context, id int64, token string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if a := m.find(id); a != nil {
		a.LinkToken = token
	}
	return nil
}

func (m *mockApprovalRepo) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if a := m.find(id); a != nil {
		a.NotifiedAt = &at
	}
	return nil
}

func (m *mockApprovalRepo) RecordDecision(ctx context.Context, id int64, status, reason, decidedBy string) (bool, error) {
	if m.recordDecisionFunc != nil {
		return m.recordDecisionFunc(ctx, id, status, reason, decidedBy)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a := m.find(id)
	if a == nil || !a.AwaitingHuman() {
		return false, nil
	}
	a.Status, a.Reason, a.DecidedBy = status, reason, decidedBy
	return true, nil
}

func (m *mockApprovalRepo) ListPriorDecisions(ctx context.Context, limit int) ([]entity.PriorCase, error) {
	return m.priorCases, m.priorErr
}

func (m *mockApprovalRepo) DeleteAll(ctx context.Context) (int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	n := int64(len(m.store.approvals))
	m.store.approvals = nil
	return n, nil
}

type mockExtractor struct {
	extractFunc func(ctx context.Context, document []byte) (*entity.ExtractionResult, error)
	calls       int
}

func (m *mockExtractor) Extract(ctx context.Context, document []byte) (*entity.ExtractionResult, error) {
	m.calls++
	if m.extractFunc != nil {
		return m.extractFunc(ctx, document)
	}
	return &entity.ExtractionResult{}, nil
}

type mockAssessor struct {
	assessFunc func(ctx context.Context, extraction *entity.ExtractionResult, policyText string, priorCases []entity.PriorCase) (*entity.ComplianceOpinion, error)
	lastPrior  []entity.PriorCase
}

func (m *mockAssessor) Assess(ctx context.Context, extraction *entity.ExtractionResult, policyText string, priorCases []entity.PriorCase) (*entity.ComplianceOpinion, error) {
	m.lastPrior = priorCases
	if m.assessFunc != nil {
		return m.assessFunc(ctx, extraction, policyText, priorCases)
	}
	return &entity.ComplianceOpinion{Decision: entity.OpinionApproved, Reasoning: "within policy"}, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	requests []*port.ReviewRequest
	err      error
}

func (m *mockNotifier) NotifyApprover(ctx context.Context, req *port.ReviewRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.err
}

type mockSigner struct{}

func (m *mockSigner) Sign(approvalID int64) (string, error) {
	return "token-" + strconv.FormatInt(approvalID, 10), nil
}

func (m *mockSigner) Verify(token string, approvalID int64) error {
	if token != "token-"+strconv.FormatInt(approvalID, 10) {
		return ErrInvalidToken
	}
	return nil
}

type mockExporter struct {
	rows []port.ExportRow
}

func (m *mockExporter) Export(ctx context.Context, rows []port.ExportRow, w io.Writer) error {
	m.rows = rows
	_, err := io.Copy(w, strings.NewReader("xlsx"))
	return err
}
