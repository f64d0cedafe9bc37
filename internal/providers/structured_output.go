package providers

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when model output contains no parseable JSON value.
var ErrNoJSON = errors.New("no JSON found in model output")

// ParseStructuredJSON parses JSON from model output. When the raw text is not
// valid JSON it retries on the content of a markdown code fence, then on the
// span between the outermost object delimiters, then the outermost array
// delimiters. salvaged reports whether any of those fallbacks was needed.
func ParseStructuredJSON(content string) (raw json.RawMessage, salvaged bool, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, ErrNoJSON
	}

	if json.Valid([]byte(content)) {
		return json.RawMessage(content), false, nil
	}

	candidates := []string{
		stripCodeFences(content),
		outermostSpan(content, "{", "}"),
		outermostSpan(content, "[", "]"),
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true, nil
		}
	}

	return nil, false, ErrNoJSON
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// outermostSpan returns content from the first open delimiter through the last close delimiter.
func outermostSpan(content, open, close string) string {
	start := strings.Index(content, open)
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(content, close)
	if end < start {
		return ""
	}
	return content[start : end+1]
}
