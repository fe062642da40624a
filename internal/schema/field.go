package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldType is the semantic type of a field.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInteger    FieldType = "integer"
	TypeFloat      FieldType = "float"
	TypeBoolean    FieldType = "boolean"
	TypeStringList FieldType = "list_string"
	TypeObjectList FieldType = "list_object"
)

// Known reports whether t is a supported field type.
func (t FieldType) Known() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeStringList, TypeObjectList:
		return true
	default:
		return false
	}
}

// IsList reports whether values of this type are JSON arrays.
func (t FieldType) IsList() bool {
	return t == TypeStringList || t == TypeObjectList
}

// IsNumeric reports whether range constraints apply to this type.
func (t FieldType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// Field describes one field of a schema variant.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`

	// Min and Max bound numeric values, inclusive.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// Enum restricts string values to a fixed set.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Format is a validator tag applied to string values (e.g. "email", "url").
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Decimals rounds float values after validation. Zero leaves them as is.
	Decimals int `json:"decimals,omitempty" yaml:"decimals,omitempty"`

	// Items describes the sub-record of a list_object field.
	Items []Field `json:"items,omitempty" yaml:"items,omitempty"`
}

func (f Field) clone() Field {
	c := f
	if f.Min != nil {
		v := *f.Min
		c.Min = &v
	}
	if f.Max != nil {
		v := *f.Max
		c.Max = &v
	}
	if f.Enum != nil {
		c.Enum = append([]string(nil), f.Enum...)
	}
	if f.Items != nil {
		c.Items = make([]Field, len(f.Items))
		for i, it := range f.Items {
			c.Items[i] = it.clone()
		}
	}
	return c
}

// emptyValue is what a missing or null field is stored as.
func (f Field) emptyValue() any {
	switch f.Type {
	case TypeStringList:
		return []string{}
	case TypeObjectList:
		return []map[string]any{}
	default:
		return nil
	}
}

func bound(v float64) *float64 { return &v }

func coerceString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected string, got %s", describe(v))
	}
}

func coerceInteger(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", t.String())
		}
		return integral(f)
	case float64:
		return integral(t)
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		s := cleanNumeric(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", t)
		}
		return integral(f)
	default:
		return 0, fmt.Errorf("expected integer, got %s", describe(v))
	}
}

func integral(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("integer %v out of range", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", t.String())
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(cleanNumeric(t), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected number, got %s", describe(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected finite number, got %v", f)
	}
	return f, nil
}

func coerceBoolean(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected boolean, got %s", describe(v))
	}
}

// cleanNumeric strips whitespace and thousands separators ("1,200" -> "1200").
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, ",", "")
}

func roundTo(f float64, decimals int) float64 {
	if decimals <= 0 {
		return f
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(f*p) / p
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
