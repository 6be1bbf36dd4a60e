package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChatServer answers chat completions with scripted replies and records requests
type fakeChatServer struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []openai.ChatCompletionRequest
}

type fakeReply struct {
	status  int
	content string
}

func (f *fakeChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := fakeReply{status: http.StatusOK, content: "{}"}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reply.status != http.StatusOK {
		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  openai.GPT4oMini,
		Choices: []openai.ChatCompletionChoice{
			{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply.content},
				FinishReason: openai.FinishReasonStop,
			},
		},
	})
}

func (f *fakeChatServer) lastUserPrompt(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	msgs := f.requests[len(f.requests)-1].Messages
	require.Len(t, msgs, 2)
	return msgs[1].Content
}

func (f *fakeChatServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, replies ...fakeReply) (*Client, *fakeChatServer) {
	t.Helper()
	fake := &fakeChatServer{replies: replies}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
	return client, fake
}

type stubText struct {
	text string
	err  error
}

func (s stubText) ExtractText(ctx context.Context, document []byte) (string, error) {
	return s.text, s.err
}

const sampleInvoiceText = `Brewline Supplies Pvt Ltd
From: Brewline Supplies Pvt Ltd
Bill To: Kaladeofin
Invoice No: BR-2291
Date: 2024-05-14
Bira Single Malt 2 x 1,500.00
Total: $3,000.00`

func TestClient_CompleteJSON_RetriesServerErrors(t *testing.T) {
	client, fake := newTestClient(t,
		fakeReply{status: http.StatusInternalServerError},
		fakeReply{status: http.StatusOK, content: `{"ok":true}`},
	)

	content, err := client.CompleteJSON(context.Background(), DefaultPrompts().InvoiceExtraction, "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
	assert.Equal(t, 2, fake.requestCount())
}

func TestClient_CompleteJSON_RequestsJSONObject(t *testing.T) {
	client, fake := newTestClient(t, fakeReply{status: http.StatusOK, content: `{}`})

	_, err := client.CompleteJSON(context.Background(), DefaultPrompts().ComplianceAssessment, "hello")
	require.NoError(t, err)

	fake.mu.Lock()
	req := fake.requests[0]
	fake.mu.Unlock()
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	assert.Equal(t, openai.GPT4oMini, req.Model)
}

func TestExtractor_Extract(t *testing.T) {
	client, fake := newTestClient(t, fakeReply{status: http.StatusOK, content: "```json\n" + `{
		"invoice_id": "BR-2291",
		"supplier_name": "Brewline Supplies Pvt Ltd, Kaladeofin",
		"invoice_date": "2024-05-14",
		"total_amount": "3,000.00",
		"currency": "inr",
		"line_items": [
			{"description": "Bira Single Malt", "quantity": 2, "unit_price": 1500, "total": 10},
			{"description": "Delivery", "quantity": null, "unit_price": null, "total": 120.5}
		]
	}` + "\n```"})

	extractor := NewExtractor(client, stubText{text: sampleInvoiceText}, nil,
		ExtractorConfig{RecipientOrg: "Kaladeofin"}, zap.NewNop())

	result, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "BR-2291", entity.StringValue(result.InvoiceNumber))
	assert.Equal(t, "Brewline Supplies Pvt Ltd", entity.StringValue(result.SupplierName))
	require.NotNil(t, result.InvoiceDate)
	assert.Equal(t, "2024-05-14", result.InvoiceDate.Format("2006-01-02"))
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, entity.Amount(300000), *result.TotalAmount)
	assert.Equal(t, "INR", entity.StringValue(result.Currency))
	assert.Equal(t, sampleInvoiceText, result.SourceText)

	require.Len(t, result.LineItems, 2)
	assert.Equal(t, entity.Amount(300000), result.LineItems[0].Total)
	assert.Equal(t, 1.0, result.LineItems[1].Quantity)
	assert.Equal(t, entity.Amount(12050), result.LineItems[1].Total)
	assert.Equal(t, entity.Amount(12050), result.LineItems[1].UnitPrice)

	assert.Contains(t, fake.lastUserPrompt(t), "Invoice No: BR-2291")
	assert.Contains(t, fake.lastUserPrompt(t), `"Kaladeofin" is the organization receiving the invoice`)
}

func TestExtractor_FallsBackToText(t *testing.T) {
	client, _ := newTestClient(t, fakeReply{status: http.StatusOK, content: `{"supplier_name": null, "total_amount": null}`})

	extractor := NewExtractor(client, stubText{text: sampleInvoiceText}, nil,
		ExtractorConfig{RecipientOrg: "Kaladeofin"}, zap.NewNop())

	result, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "Brewline Supplies Pvt Ltd", entity.StringValue(result.SupplierName))
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, entity.Amount(300000), *result.TotalAmount)
	require.NotNil(t, result.InvoiceDate)
	assert.Equal(t, "2024-05-14", result.InvoiceDate.Format("2006-01-02"))
	assert.Nil(t, result.Currency, "currency is never defaulted")
	assert.Nil(t, result.InvoiceNumber)
}

func TestExtractor_OutOfRangeTotalIsAbsent(t *testing.T) {
	client, _ := newTestClient(t, fakeReply{status: http.StatusOK, content: `{
		"supplier_name": "Acme",
		"total_amount": 1e20,
		"line_items": [{"description": "Widget", "quantity": 1, "unit_price": 1e20}]
	}`})

	extractor := NewExtractor(client, stubText{text: sampleInvoiceText}, nil, ExtractorConfig{}, zap.NewNop())

	result, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Nil(t, result.TotalAmount)
	require.Len(t, result.LineItems, 1)
	assert.Equal(t, entity.Amount(0), result.LineItems[0].UnitPrice)
	assert.Equal(t, entity.Amount(0), result.LineItems[0].Total)
}

func TestExtractor_ModelDownUsesFallbacks(t *testing.T) {
	client, _ := newTestClient(t, fakeReply{status: http.StatusBadRequest})

	extractor := NewExtractor(client, stubText{text: sampleInvoiceText}, nil, ExtractorConfig{}, zap.NewNop())

	result, err := extractor.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, entity.Amount(300000), *result.TotalAmount)
}

func TestExtractor_Errors(t *testing.T) {
	client, fake := newTestClient(t)

	t.Run("unreadable document", func(t *testing.T) {
		extractor := NewExtractor(client, stubText{err: errors.New("broken xref")}, nil, ExtractorConfig{}, zap.NewNop())
		_, err := extractor.Extract(context.Background(), []byte("x"))

		var extractErr *entity.ExtractionError
		require.ErrorAs(t, err, &extractErr)
		assert.Equal(t, "unreadable document", extractErr.Reason)
	})

	t.Run("no text layer", func(t *testing.T) {
		extractor := NewExtractor(client, stubText{text: "  \n "}, nil, ExtractorConfig{}, zap.NewNop())
		_, err := extractor.Extract(context.Background(), []byte("x"))

		var extractErr *entity.ExtractionError
		require.ErrorAs(t, err, &extractErr)
		assert.Equal(t, "document has no extractable text", extractErr.Reason)
	})

	assert.Zero(t, fake.requestCount())
}

func TestExtractor_TruncatesPromptText(t *testing.T) {
	client, fake := newTestClient(t, fakeReply{status: http.StatusOK, content: `{"invoice_number": 1001}`})

	long := "Acme Tools\n" + strings.Repeat("x", 200) + "TAIL-MARKER"
	extractor := NewExtractor(client, stubText{text: long}, nil, ExtractorConfig{MaxPromptChars: 100}, zap.NewNop())

	result, err := extractor.Extract(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "1001", entity.StringValue(result.InvoiceNumber))
	assert.NotContains(t, fake.lastUserPrompt(t), "TAIL-MARKER")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-05-14", "2024-05-14", true},
		{"05/14/2024", "2024-05-14", true},
		{"14-05-2024", "2024-05-14", true},
		{"May 14, 2024", "2024-05-14", true},
		{"2024-05-14T10:00:00Z", "2024-05-14", true},
		{"", "", false},
		{"someday", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Format("2006-01-02"))
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":{"b":"}"}}`, extractJSON("Here you go: ```json\n{\"a\":{\"b\":\"}\"}}\n```"))
	assert.Equal(t, "", extractJSON("no json here"))
	assert.Equal(t, "", extractJSON("{ unterminated"))
}

func testPriorCases() []entity.PriorCase {
	return []entity.PriorCase{
		{ApprovalID: 11, Status: entity.StatusDeclined, Reason: "alcohol", SupplierName: "Tap Room", TotalAmount: "80.00", Currency: "USD"},
		{ApprovalID: 12, Status: entity.StatusApproved, Reason: "fine", SupplierName: "Acme", TotalAmount: "900.00", Currency: "USD"},
	}
}

func testExtraction() *entity.ExtractionResult {
	date := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	return &entity.ExtractionResult{
		SupplierName:  entity.StringPtr("Brewline"),
		InvoiceNumber: entity.StringPtr("BR-1"),
		InvoiceDate:   &date,
		TotalAmount:   entity.AmountPtr(300000),
		Currency:      entity.StringPtr("INR"),
		LineItems: []entity.LineItem{
			{Description: "Bira Single Malt", Quantity: 2, UnitPrice: 150000, Total: 300000},
		},
	}
}

func TestAssessor_Assess(t *testing.T) {
	client, fake := newTestClient(t, fakeReply{status: http.StatusOK, content: `{
		"decision": "approval_inprogress",
		"reason": "Line item looks like alcohol",
		"confidence": 0.64,
		"citations": ["Bira Single Malt", "  ", "Section 4: no alcohol"],
		"prior_case_refs": ["approval:11", "approval:99", "approval:11"]
	}`})

	assessor := NewAssessor(client, nil, zap.NewNop())
	assessor.now = func() time.Time { return time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC) }

	opinion, err := assessor.Assess(context.Background(), testExtraction(), "No alcohol may be expensed.", testPriorCases())
	require.NoError(t, err)

	assert.Equal(t, entity.OpinionNeedsReview, opinion.Decision)
	assert.Equal(t, "Line item looks like alcohol", opinion.Reasoning)
	require.NotNil(t, opinion.Confidence)
	assert.InDelta(t, 0.64, *opinion.Confidence, 1e-9)
	assert.Equal(t, []string{"Bira Single Malt", "Section 4: no alcohol"}, opinion.Citations)
	assert.Equal(t, []string{"approval:11"}, opinion.PriorCaseRefs)
	assert.Empty(t, opinion.Fault)

	prompt := fake.lastUserPrompt(t)
	assert.Contains(t, prompt, "No alcohol may be expensed.")
	assert.Contains(t, prompt, `"ref": "approval:12"`)
	assert.Contains(t, prompt, "Current Date: 2024-06-30")
	assert.Contains(t, prompt, "Days Since Invoice: 10")
	assert.Contains(t, prompt, `"total_amount": "3000.00"`)
}

func TestAssessor_DecisionMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want entity.OpinionDecision
	}{
		{"approved", entity.OpinionApproved},
		{"Approve", entity.OpinionApproved},
		{"declined", entity.OpinionDeclined},
		{"REJECTED", entity.OpinionDeclined},
		{"needs_review", entity.OpinionNeedsReview},
		{"approval_inprogress", entity.OpinionNeedsReview},
		{"maybe", entity.OpinionDecision("maybe")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, mapDecision(tt.raw))
		})
	}
}

func TestAssessor_Errors(t *testing.T) {
	tests := []struct {
		name   string
		reply  fakeReply
		reason string
	}{
		{"not json", fakeReply{status: http.StatusOK, content: "I think it is fine"}, "malformed response"},
		{"missing decision", fakeReply{status: http.StatusOK, content: `{"reason": "ok"}`}, "response has no decision"},
		{"upstream error", fakeReply{status: http.StatusUnauthorized}, "model unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.reply)
			assessor := NewAssessor(client, nil, zap.NewNop())

			_, err := assessor.Assess(context.Background(), testExtraction(), "policy", nil)

			var assessErr *entity.AssessmentError
			require.ErrorAs(t, err, &assessErr)
			assert.Equal(t, tt.reason, assessErr.Reason)
		})
	}
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
compliance_assessment:
  system: "Custom auditor"
  user_template: "Invoice {{.Invoice}}"
`), 0o600))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom auditor", prompts.ComplianceAssessment.System)
	assert.Equal(t, "Invoice {{.Invoice}}", prompts.ComplianceAssessment.UserTemplate)
	assert.Equal(t, DefaultPrompts().InvoiceExtraction, prompts.InvoiceExtraction)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("invoice_extraction:\n  user_template: \"{{.Text\"\n"), 0o600))
	_, err = LoadPrompts(bad)
	assert.Error(t, err)

	_, err = LoadPrompts(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
