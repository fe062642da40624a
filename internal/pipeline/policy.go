package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/schema"
)

// PolicyMode selects how a document without a schema hint is handled.
type PolicyMode string

const (
	// PolicyStrict fails hint-less documents with UnresolvedSchema.
	PolicyStrict PolicyMode = "strict"
	// PolicyInfer picks a schema from keywords in the file name.
	PolicyInfer PolicyMode = "infer"
	// PolicyDefault falls back to a fixed schema.
	PolicyDefault PolicyMode = "default"
)

// SchemaPolicy resolves the target schema for a document.
type SchemaPolicy struct {
	Mode    PolicyMode
	Default string
}

// filenameKeywords is checked in order; the first substring match wins.
var filenameKeywords = []struct {
	keyword string
	schema  string
}{
	{"company", schema.CompanyProfile},
	{"buyer", schema.BuyerProfile},
	{"pe", schema.BuyerProfile},
	{"capital", schema.BuyerProfile},
	{"ventures", schema.BuyerProfile},
}

// ParsePolicy parses "strict", "infer" or "default:<Name>". Empty means
// strict.
func ParsePolicy(s string) (SchemaPolicy, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == string(PolicyStrict):
		return SchemaPolicy{Mode: PolicyStrict}, nil
	case s == string(PolicyInfer):
		return SchemaPolicy{Mode: PolicyInfer}, nil
	case strings.HasPrefix(s, string(PolicyDefault)+":"):
		name := strings.TrimSpace(strings.TrimPrefix(s, string(PolicyDefault)+":"))
		if name == "" {
			return SchemaPolicy{}, eris.New("pipeline: default schema policy needs a schema name")
		}
		return SchemaPolicy{Mode: PolicyDefault, Default: name}, nil
	default:
		return SchemaPolicy{}, eris.Errorf("pipeline: unknown schema policy %q", s)
	}
}

func (p SchemaPolicy) String() string {
	if p.Mode == PolicyDefault {
		return string(PolicyDefault) + ":" + p.Default
	}
	if p.Mode == "" {
		return string(PolicyStrict)
	}
	return string(p.Mode)
}

// Resolve returns the schema name for doc. An explicit hint always wins,
// even when it names an unregistered schema. ok is false when the policy
// leaves the document unresolved.
func (p SchemaPolicy) Resolve(doc model.Document) (name string, ok bool) {
	if hint := strings.TrimSpace(doc.SchemaHint); hint != "" {
		return hint, true
	}
	switch p.Mode {
	case PolicyInfer:
		return InferSchema(documentFilename(doc)), true
	case PolicyDefault:
		return p.Default, true
	default:
		return "", false
	}
}

// InferSchema picks a built-in schema from keywords in a file name,
// defaulting to CompanyProfile.
func InferSchema(filename string) string {
	lower := strings.ToLower(filename)
	for _, kw := range filenameKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.schema
		}
	}
	return schema.CompanyProfile
}

func documentFilename(doc model.Document) string {
	if doc.Path != "" {
		return filepath.Base(doc.Path)
	}
	return doc.ID
}
