package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseError means the model output is not exactly one JSON object.
type ParseError struct {
	Reason string
	Output string // truncated raw output
}

func (e *ParseError) Error() string {
	return "parse: " + e.Reason
}

const maxSnippet = 200

func newParseError(raw, format string, args ...any) *ParseError {
	snippet := raw
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &ParseError{Reason: fmt.Sprintf(format, args...), Output: snippet}
}

// ParseObject decodes raw model output as a single JSON object. One
// enclosing markdown code fence is tolerated; any other text before or
// after the object is an error. Numbers are kept as json.Number.
func ParseObject(raw string) (map[string]any, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, newParseError(raw, "empty output")
	}

	if strings.HasPrefix(body, "```") {
		inner, ok := stripFence(body)
		if !ok {
			return nil, newParseError(raw, "malformed code fence")
		}
		body = inner
	}

	if body == "" || body[0] != '{' {
		return nil, newParseError(raw, "output does not start with a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, newParseError(raw, "invalid JSON: %v", err)
	}

	tok, err := dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return obj, nil
	case err == nil && tok == json.Delim('{'):
		return nil, newParseError(raw, "multiple JSON objects")
	default:
		return nil, newParseError(raw, "trailing content after JSON object")
	}
}

// stripFence removes a leading ``` line (with optional language tag) and a
// closing ``` line.
func stripFence(s string) (string, bool) {
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return "", false
	}
	rest := strings.TrimSpace(s[nl+1:])
	if !strings.HasSuffix(rest, "```") {
		return "", false
	}
	rest = strings.TrimSpace(strings.TrimSuffix(rest, "```"))
	if strings.Contains(rest, "```") {
		return "", false
	}
	return rest, true
}
