package schema

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

// ConfidenceField is the field every variant must carry: the model's
// self-reported certainty, validated like any other field.
const ConfidenceField = "confidence_score"

var formatValidator = validator.New()

// Variant is a named structural contract a validated record must satisfy.
type Variant struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// Field returns the descriptor with the given name.
func (v Variant) Field(name string) (Field, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredFields lists the names of required fields in declaration order.
func (v Variant) RequiredFields() []string {
	var names []string
	for _, f := range v.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

func (v Variant) clone() Variant {
	c := v
	c.Fields = make([]Field, len(v.Fields))
	for i, f := range v.Fields {
		c.Fields[i] = f.clone()
	}
	return c
}

// Validate coerces raw into the variant's shape. Unknown keys are dropped.
// Every offending field is reported in a single *ValidationError.
func (v Variant) Validate(raw map[string]any) (map[string]any, error) {
	out, errs := validateFields(v.Fields, raw, "")
	if len(errs) > 0 {
		return nil, &ValidationError{Schema: v.Name, Fields: errs}
	}
	return out, nil
}

// Confidence extracts the validated confidence score from a record produced
// by Validate.
func Confidence(fields map[string]any) (float64, bool) {
	f, ok := fields[ConfidenceField].(float64)
	return f, ok
}

func validateFields(fields []Field, raw map[string]any, prefix string) (map[string]any, []FieldError) {
	out := make(map[string]any, len(fields))
	var errs []FieldError

	for _, f := range fields {
		path := prefix + f.Name
		val, present := raw[f.Name]
		if !present || val == nil {
			if f.Required {
				errs = append(errs, FieldError{Field: path, Reason: "required field missing"})
				continue
			}
			out[f.Name] = f.emptyValue()
			continue
		}

		coerced, fieldErrs := coerceField(f, val, path)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		out[f.Name] = coerced
	}
	return out, errs
}

func coerceField(f Field, val any, path string) (any, []FieldError) {
	fail := func(err error) (any, []FieldError) {
		return nil, []FieldError{{Field: path, Reason: err.Error()}}
	}

	switch f.Type {
	case TypeString:
		s, err := coerceString(val)
		if err != nil {
			return fail(err)
		}
		if f.Required && s == "" {
			return fail(fmt.Errorf("required field is empty"))
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return fail(fmt.Errorf("%q is not one of %v", s, f.Enum))
		}
		if f.Format != "" && s != "" {
			if err := formatValidator.Var(s, f.Format); err != nil {
				return fail(fmt.Errorf("%q is not a valid %s", s, f.Format))
			}
		}
		return s, nil

	case TypeInteger:
		n, err := coerceInteger(val)
		if err != nil {
			return fail(err)
		}
		if err := checkRange(f, float64(n)); err != nil {
			return fail(err)
		}
		return n, nil

	case TypeFloat:
		x, err := coerceFloat(val)
		if err != nil {
			return fail(err)
		}
		if err := checkRange(f, x); err != nil {
			return fail(err)
		}
		return roundTo(x, f.Decimals), nil

	case TypeBoolean:
		b, err := coerceBoolean(val)
		if err != nil {
			return fail(err)
		}
		return b, nil

	case TypeStringList:
		items, ok := val.([]any)
		if !ok {
			return fail(fmt.Errorf("expected array, got %s", describe(val)))
		}
		list := make([]string, 0, len(items))
		var errs []FieldError
		for i, it := range items {
			s, err := coerceString(it)
			if err != nil {
				errs = append(errs, FieldError{Field: fmt.Sprintf("%s[%d]", path, i), Reason: err.Error()})
				continue
			}
			list = append(list, s)
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return list, nil

	case TypeObjectList:
		items, ok := val.([]any)
		if !ok {
			return fail(fmt.Errorf("expected array, got %s", describe(val)))
		}
		list := make([]map[string]any, 0, len(items))
		var errs []FieldError
		for i, it := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			obj, ok := it.(map[string]any)
			if !ok {
				errs = append(errs, FieldError{Field: itemPath, Reason: fmt.Sprintf("expected object, got %s", describe(it))})
				continue
			}
			if len(f.Items) == 0 {
				list = append(list, obj)
				continue
			}
			sub, subErrs := validateFields(f.Items, obj, itemPath+".")
			if len(subErrs) > 0 {
				errs = append(errs, subErrs...)
				continue
			}
			list = append(list, sub)
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return list, nil

	default:
		return fail(fmt.Errorf("unsupported field type %q", f.Type))
	}
}

func checkRange(f Field, x float64) error {
	if (f.Min != nil && x < *f.Min) || (f.Max != nil && x > *f.Max) {
		return fmt.Errorf("%v outside range %s", x, rangeText(f))
	}
	return nil
}

func rangeText(f Field) string {
	lo, hi := "-inf", "+inf"
	if f.Min != nil {
		lo = formatBound(*f.Min)
	}
	if f.Max != nil {
		hi = formatBound(*f.Max)
	}
	return "[" + lo + ", " + hi + "]"
}
