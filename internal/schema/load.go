package schema

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// File is the on-disk format for additional variants.
type File struct {
	Variants []Variant `yaml:"variants"`
}

// ParseFile decodes a YAML variants file. Unknown keys are rejected so a
// typo in a constraint name is not silently ignored.
func ParseFile(data []byte) ([]Variant, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "schema: decode variants file")
	}
	return f.Variants, nil
}

// LoadFile registers every variant declared in the YAML file at path and
// returns how many were added.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "schema: read %s", path)
	}
	variants, err := ParseFile(data)
	if err != nil {
		return 0, eris.Wrapf(err, "schema: load %s", path)
	}
	for i, v := range variants {
		if err := r.Register(v); err != nil {
			return i, eris.Wrapf(err, "schema: load %s", path)
		}
	}
	return len(variants), nil
}
