package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateFile is returned when an identical document was already submitted
	ErrDuplicateFile = errors.New("duplicate file")
	// ErrNotFound is returned when an invoice or approval does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken is returned when a review link token does not match the approval
	ErrInvalidToken = errors.New("invalid token")
	// ErrAlreadyDecided is returned when a human decision targets an approval that is no longer pending
	ErrAlreadyDecided = errors.New("approval already decided")
	// ErrInvalidAction is returned for decisions other than approve or decline
	ErrInvalidAction = errors.New("action must be approve or decline")
	// ErrReasonRequired is returned when a human decision carries no reason
	ErrReasonRequired = errors.New("reason is required")
	// ErrUnsupportedMediaType is returned for uploads that are not PDF documents
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrFileTooLarge is returned for uploads over the size cap
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-byte uploads
	ErrEmptyFile = errors.New("empty file")
	// ErrInvalidInput is returned for malformed request fields
	ErrInvalidInput = errors.New("invalid input")
)

// DuplicateError identifies the invoice an upload duplicates
type DuplicateError struct {
	ExistingInvoiceID int64
	Fingerprint       string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("file already submitted as invoice %d", e.ExistingInvoiceID)
}

// Is lets callers match with errors.Is(err, ErrDuplicateFile)
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateFile
}
