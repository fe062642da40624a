package source

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Manifest assigns schema hints and text encodings to documents by ID.
//
//	encoding: utf-8
//	documents:
//	  acme_corp:
//	    schema: CompanyProfile
//	  summit_partners:
//	    schema: BuyerProfile
//	    encoding: windows-1252
type Manifest struct {
	Encoding  string                   `yaml:"encoding"`
	Documents map[string]ManifestEntry `yaml:"documents"`
}

// ManifestEntry describes one document.
type ManifestEntry struct {
	Schema   string `yaml:"schema"`
	Encoding string `yaml:"encoding"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML, rejecting unknown keys.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, eris.Wrap(err, "source: decode manifest")
	}
	for id := range m.Documents {
		if id == "" {
			return nil, eris.New("source: manifest has an empty document id")
		}
	}
	return &m, nil
}

func (m *Manifest) entry(id string) ManifestEntry {
	if m == nil {
		return ManifestEntry{}
	}
	e := m.Documents[id]
	if e.Encoding == "" {
		e.Encoding = m.Encoding
	}
	return e
}
