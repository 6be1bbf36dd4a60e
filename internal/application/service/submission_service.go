package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/pkg/utils"
)

// Upload is a document submitted for approval
type Upload struct {
	Filename       string
	ContentType    string
	Data           []byte
	SubmitterName  string
	SubmitterEmail string
	SubmitterTeam  string
	BusinessReason string
	// Force accepts a file whose exact bytes were submitted before
	Force bool
}

// SubmitResult is the outcome of a submission
type SubmitResult struct {
	Invoice           *entity.Invoice   `json:"invoice"`
	Verdict           *DuplicateVerdict `json:"duplicate_check"`
	Routing           *RoutingResult    `json:"routing,omitempty"`
	ExtractionWarning string            `json:"extraction_warning,omitempty"`
}

// SubmissionService runs an uploaded invoice through extraction, duplicate checks and routing
type SubmissionService interface {
	Submit(ctx context.Context, upload *Upload) (*SubmitResult, error)
}

type submissionServiceImpl struct {
	extractor   port.ExtractionProvider
	invoiceRepo port.InvoiceRepository
	guard       *DuplicateGuard
	approvals   ApprovalService
	logger      Logger
}

// NewSubmissionService creates a new SubmissionService
func NewSubmissionService(
	extractor port.ExtractionProvider,
	invoiceRepo port.InvoiceRepository,
	guard *DuplicateGuard,
	approvals ApprovalService,
	logger Logger,
) SubmissionService {
	return &submissionServiceImpl{
		extractor:   extractor,
		invoiceRepo: invoiceRepo,
		guard:       guard,
		approvals:   approvals,
		logger:      logger,
	}
}

// Submit validates, fingerprints, extracts, admits and routes one upload
func (s *submissionServiceImpl) Submit(ctx context.Context, upload *Upload) (*SubmitResult, error) {
	if err := validateUpload(upload); err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(upload.Data)
	s.logger.Info("Invoice upload received",
		"filename", upload.Filename,
		"size", len(upload.Data),
		"fingerprint", fingerprint,
		"force", upload.Force,
	)

	// exact re-uploads are rejected before spending an extraction call
	if _, err := s.guard.Precheck(ctx, fingerprint, upload.Force); err != nil {
		return nil, err
	}

	extraction, warning, err := s.extract(ctx, upload.Data)
	if err != nil {
		return nil, err
	}

	invoice := &entity.Invoice{
		Filename:       utils.SanitizeString(upload.Filename),
		FileSHA256:     fingerprint,
		LogicalKey:     LogicalKey(extraction.SupplierName, extraction.InvoiceNumber),
		Extraction:     *extraction,
		SubmitterName:  utils.SanitizeString(upload.SubmitterName),
		SubmitterEmail: strings.TrimSpace(upload.SubmitterEmail),
		SubmitterTeam:  utils.SanitizeString(upload.SubmitterTeam),
		BusinessReason: utils.SanitizeString(upload.BusinessReason),
		TextExcerpt:    utils.Truncate(extraction.SourceText, entity.MaxExcerptChars),
		ApprovalStatus: "pending",
		CreatedAt:      time.Now().UTC(),
	}

	verdict, err := s.guard.Admit(ctx, &Submission{Invoice: invoice, Override: upload.Force}, func(txCtx context.Context) error {
		return s.invoiceRepo.Create(txCtx, invoice)
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Invoice: invoice, Verdict: verdict, ExtractionWarning: warning}

	var opts []RouteOption
	switch {
	case verdict.Kind == VerdictFlagged:
		opts = append(opts, HoldForReview(verdict.Note))
	case verdict.Note != "":
		opts = append(opts, WithNotes(verdict.Note))
	}
	if warning != "" {
		opts = append(opts, WithNotes("extraction failed: "+warning))
	}

	routing, err := s.approvals.Route(ctx, invoice, opts...)
	if err != nil {
		s.logger.Error("Failed to route invoice", "error", err, "invoice_id", invoice.ID)
		return result, fmt.Errorf("route invoice: %w", err)
	}
	result.Routing = routing

	s.logger.Info("Invoice submitted",
		"invoice_id", invoice.ID,
		"verdict", verdict.Kind,
		"outcome", routing.Decision.Outcome,
	)
	return result, nil
}

// extract degrades to an empty result when the document could not be read
func (s *submissionServiceImpl) extract(ctx context.Context, data []byte) (*entity.ExtractionResult, string, error) {
	extraction, err := s.extractor.Extract(ctx, data)
	if err == nil && extraction != nil {
		return extraction, "", nil
	}

	var extractErr *entity.ExtractionError
	switch {
	case err == nil:
		return &entity.ExtractionResult{}, "no fields extracted", nil
	case errors.As(err, &extractErr):
		s.logger.Error("Extraction failed, continuing with empty result", "error", err)
		return &entity.ExtractionResult{}, extractErr.Reason, nil
	case ctx.Err() != nil:
		return nil, "", ctx.Err()
	default:
		s.logger.Error("Extraction provider error, continuing with empty result", "error", err)
		return &entity.ExtractionResult{}, err.Error(), nil
	}
}

func validateUpload(upload *Upload) error {
	if upload == nil || len(upload.Data) == 0 {
		return ErrEmptyFile
	}
	if len(upload.Data) > entity.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(upload.Data), entity.MaxUploadBytes)
	}

	mediaType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if parsed, _, err := mime.ParseMediaType(upload.ContentType); err == nil {
		mediaType = parsed
	}
	if !entity.IsAcceptedContentType(mediaType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, upload.ContentType)
	}

	if email := strings.TrimSpace(upload.SubmitterEmail); email != "" {
		if err := utils.ValidateEmail(email); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}
