// Package schema holds the schema variants records are extracted into and
// the generic routine that validates candidate records against them.
package schema

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Registry maps variant names to immutable descriptors. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	variants  map[string]Variant
	contracts map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variants:  make(map[string]Variant),
		contracts: make(map[string]string),
	}
}

// DefaultRegistry returns a registry holding the built-in variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, v := range Builtins() {
		if err := r.Register(v); err != nil {
			panic(err) // built-ins are static
		}
	}
	return r
}

// Register adds a variant. Names are unique; a variant cannot be replaced
// once registered.
func (r *Registry) Register(v Variant) error {
	if err := checkVariant(v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[v.Name]; exists {
		return eris.Errorf("schema: variant %q already registered", v.Name)
	}
	r.variants[v.Name] = v.clone()
	return nil
}

// VariantFor returns a copy of the named variant.
func (r *Registry) VariantFor(name string) (Variant, error) {
	r.mu.RLock()
	v, ok := r.variants[name]
	r.mu.RUnlock()
	if !ok {
		return Variant{}, eris.Wrapf(ErrUnknownSchema, "schema: %q", name)
	}
	return v.clone(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variants[name]
	return ok
}

// PromptContract returns the textual contract for the named variant. The
// text is rendered once and returned verbatim on every later call.
func (r *Registry) PromptContract(name string) (string, error) {
	r.mu.RLock()
	c, ok := r.contracts[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contracts[name]; ok {
		return c, nil
	}
	v, ok := r.variants[name]
	if !ok {
		return "", eris.Wrapf(ErrUnknownSchema, "schema: %q", name)
	}
	c = renderContract(v)
	r.contracts[name] = c
	return c, nil
}

// Names returns all registered variant names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.variants))
	for n := range r.variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func checkVariant(v Variant) error {
	if v.Name == "" {
		return eris.New("schema: variant name is required")
	}
	if len(v.Fields) == 0 {
		return eris.Errorf("schema: variant %q has no fields", v.Name)
	}
	if err := checkFields(v.Name, v.Fields, ""); err != nil {
		return err
	}

	conf, ok := v.Field(ConfidenceField)
	if !ok || conf.Type != TypeFloat || !conf.Required ||
		conf.Min == nil || conf.Max == nil || *conf.Min != 0 || *conf.Max != 1 {
		return eris.Errorf("schema: variant %q must declare a required float %s in [0, 1]", v.Name, ConfidenceField)
	}
	return nil
}

func checkFields(variant string, fields []Field, prefix string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := prefix + f.Name
		if f.Name == "" {
			return eris.Errorf("schema: variant %q has a field with no name", variant)
		}
		if seen[f.Name] {
			return eris.Errorf("schema: variant %q declares %q twice", variant, path)
		}
		seen[f.Name] = true

		if !f.Type.Known() {
			return eris.Errorf("schema: variant %q field %q has unknown type %q", variant, path, f.Type)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return eris.Errorf("schema: variant %q field %q has min > max", variant, path)
		}
		if (f.Min != nil || f.Max != nil) && !f.Type.IsNumeric() {
			return eris.Errorf("schema: variant %q field %q: range applies to numeric fields only", variant, path)
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return eris.Errorf("schema: variant %q field %q: enum applies to string fields only", variant, path)
		}
		if len(f.Items) > 0 {
			if f.Type != TypeObjectList {
				return eris.Errorf("schema: variant %q field %q: items apply to list_object fields only", variant, path)
			}
			if err := checkFields(variant, f.Items, path+"."); err != nil {
				return err
			}
		}
	}
	return nil
}
