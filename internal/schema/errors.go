package schema

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnknownSchema is returned when a variant name is not registered.
var ErrUnknownSchema = eris.New("unknown schema")

// FieldError identifies one offending field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field of a candidate record that failed
// coercion or a constraint.
type ValidationError struct {
	Schema string       `json:"schema"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("schema: ")
	sb.WriteString(e.Schema)
	sb.WriteString(" validation failed: ")
	for i, fe := range e.Fields {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fe.Field)
		sb.WriteString(": ")
		sb.WriteString(fe.Reason)
	}
	return sb.String()
}

// FieldNames returns the offending field paths in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		names[i] = fe.Field
	}
	return names
}
