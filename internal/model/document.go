package model

// Document is one unit of input text to extract from.
type Document struct {
	// ID is the stable identity of the source, usually the file name
	// without its extension.
	ID string `json:"id"`

	// Text is the raw document text.
	Text string `json:"-"`

	// SchemaHint names the schema variant to extract. Empty means no hint.
	SchemaHint string `json:"schema_hint,omitempty"`

	// Path is the source location, when the document came from disk.
	Path string `json:"path,omitempty"`
}
