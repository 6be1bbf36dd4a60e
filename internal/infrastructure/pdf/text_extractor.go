package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultMaxPages bounds how many pages are read from a single document
const DefaultMaxPages = 10

// ErrEmptyDocument is returned for zero-byte input
var ErrEmptyDocument = errors.New("empty document")

// TextExtractor reads the text layer of PDF documents with MuPDF
type TextExtractor struct {
	maxPages int
	logger   *zap.Logger
}

// NewTextExtractor creates a text extractor; maxPages <= 0 uses DefaultMaxPages
func NewTextExtractor(maxPages int, logger *zap.Logger) *TextExtractor {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &TextExtractor{
		maxPages: maxPages,
		logger:   logger,
	}
}

// ExtractText returns the text of the first pages joined by blank lines
func (e *TextExtractor) ExtractText(ctx context.Context, document []byte) (string, error) {
	if len(document) == 0 {
		return "", ErrEmptyDocument
	}

	doc, err := fitz.NewFromMemory(document)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount > e.maxPages {
		e.logger.Debug("Truncating PDF pages",
			zap.Int("total_pages", pageCount),
			zap.Int("max_pages", e.maxPages))
		pageCount = e.maxPages
	}

	pages := make([]string, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			e.logger.Warn("Failed to extract page text",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// Verify interface compliance
var _ port.TextExtractor = (*TextExtractor)(nil)
