package schema

import (
	"strconv"
	"strings"
)

// renderContract describes a variant's fields for embedding in a prompt.
// Output depends only on the descriptor, never on map iteration order.
func renderContract(v Variant) string {
	var sb strings.Builder
	sb.WriteString("Schema ")
	sb.WriteString(strconv.Quote(v.Name))
	if v.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(v.Description)
	}
	sb.WriteString("\nFields:\n")
	for _, f := range v.Fields {
		sb.WriteString("  - ")
		writeField(&sb, f)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeField(sb *strings.Builder, f Field) {
	sb.WriteString(strconv.Quote(f.Name))
	sb.WriteString(": ")
	sb.WriteString(typeText(f))

	var notes []string
	switch {
	case f.Required:
		notes = append(notes, "required")
	case f.Type.IsList():
		notes = append(notes, "optional, use [] if none")
	default:
		notes = append(notes, "optional, use null if unknown")
	}
	if f.Type.IsNumeric() && (f.Min != nil || f.Max != nil) {
		notes = append(notes, "range "+rangeText(f))
	}
	if len(f.Enum) > 0 {
		quoted := make([]string, len(f.Enum))
		for i, e := range f.Enum {
			quoted[i] = strconv.Quote(e)
		}
		notes = append(notes, "one of ["+strings.Join(quoted, ", ")+"]")
	}
	if f.Format != "" {
		notes = append(notes, "format "+f.Format)
	}
	sb.WriteString(" (")
	sb.WriteString(strings.Join(notes, ", "))
	sb.WriteString(")")

	if f.Description != "" {
		sb.WriteString(" - ")
		sb.WriteString(f.Description)
	}
}

func typeText(f Field) string {
	switch f.Type {
	case TypeStringList:
		return "list of string"
	case TypeObjectList:
		if len(f.Items) == 0 {
			return "list of object"
		}
		var sb strings.Builder
		sb.WriteString("list of object {")
		for i, it := range f.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(it.Name))
			sb.WriteString(": ")
			sb.WriteString(typeText(it))
			if it.Required {
				sb.WriteString(" required")
			}
		}
		sb.WriteString("}")
		return sb.String()
	default:
		return string(f.Type)
	}
}
