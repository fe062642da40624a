package extract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObject_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `{"company_name":"Acme","confidence_score":0.9}`},
		{"whitespace", "\n  {\"company_name\": \"Acme\", \"confidence_score\": 0.9}  \n"},
		{"json fence", "```json\n{\"company_name\":\"Acme\",\"confidence_score\":0.9}\n```"},
		{"plain fence", "```\n{\"company_name\":\"Acme\",\"confidence_score\":0.9}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseObject(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "Acme", obj["company_name"])
			assert.Equal(t, json.Number("0.9"), obj["confidence_score"])
		})
	}
}

func TestParseObject_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"empty", "   ", "empty output"},
		{"prose", "Sorry, I cannot help with that.", "does not start with a JSON object"},
		{"leading prose", `Here you go: {"a":1}`, "does not start with a JSON object"},
		{"array", `[{"a":1}]`, "does not start with a JSON object"},
		{"truncated", `{"a": 1, "b": `, "invalid JSON"},
		{"two objects", `{"a":1} {"b":2}`, "multiple JSON objects"},
		{"trailing prose", `{"a":1} hope this helps`, "trailing content"},
		{"trailing array", `{"a":1} []`, "trailing content"},
		{"unterminated fence", "```json\n{\"a\":1}", "malformed code fence"},
		{"two fences", "```json\n{\"a\":1}\n```\n```json\n{\"b\":2}\n```", "malformed code fence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseObject(tt.raw)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Contains(t, pe.Reason, tt.reason)
		})
	}
}

func TestParseError_TruncatesOutput(t *testing.T) {
	raw := make([]byte, 1000)
	for i := range raw {
		raw[i] = 'x'
	}
	_, err := ParseObject(string(raw))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Output, maxSnippet)
}
