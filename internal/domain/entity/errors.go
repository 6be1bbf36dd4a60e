package entity

import "fmt"

// ExtractionError reports an unreadable document or one with no usable text
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// AssessmentError reports a malformed or unavailable compliance opinion
type AssessmentError struct {
	Reason string
	Err    error
}

func (e *AssessmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assessment failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("assessment failed: %s", e.Reason)
}

func (e *AssessmentError) Unwrap() error {
	return e.Err
}
