package openai

import (
	"encoding/json"
	"strings"
)

// decodeJSON unmarshals content, falling back to the first balanced object when the
// model wrapped its answer in prose or markdown fences
func decodeJSON(content string, v interface{}) error {
	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}
	if jsonStr := extractJSON(content); jsonStr != "" {
		if fallbackErr := json.Unmarshal([]byte(jsonStr), v); fallbackErr == nil {
			return nil
		}
	}
	return err
}

// extractJSON extracts the first JSON object embedded in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd returns the index just past the object starting at start, or -1
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
