package entity

import "strconv"

// Upload limits
const (
	MaxUploadBytes  = 25 * 1024 * 1024
	MaxPromptChars  = 8000
	MaxExcerptChars = 4000
	PriorCaseLimit  = 20
)

// Accepted upload content types
var AcceptedContentTypes = []string{"application/pdf", "application/octet-stream"}

// IsAcceptedContentType reports whether mediaType may be uploaded
func IsAcceptedContentType(mediaType string) bool {
	for _, t := range AcceptedContentTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
