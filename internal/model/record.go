package model

import "time"

// RecordVersion is the version of the persisted record shape written by
// this build. Readers accept any version up to and including it.
const RecordVersion = 2

// Record is the durable result of a successful extraction.
type Record struct {
	DocumentID    string         `json:"document_id"`
	SchemaName    string         `json:"schema_name"`
	Fields        map[string]any `json:"fields"`
	Confidence    float64        `json:"confidence_score"`
	ModelVersion  string         `json:"model_version"`
	ExtractedAt   time.Time      `json:"extracted_at"`
	TotalAttempts int            `json:"total_attempts"`
	Outcome       Outcome        `json:"final_outcome"`
	RecordVersion int            `json:"record_version"`

	// Added in record version 2; nil on rows written before that.
	SourcePath   *string `json:"source_path,omitempty"`
	SourceSHA256 *string `json:"source_sha256,omitempty"`
}

// StringField returns a string-valued field or "" when absent.
func (r *Record) StringField(name string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Fields[name].(string)
	return s
}

// FailureReport is the durable log entry for a document that could not be
// extracted.
type FailureReport struct {
	DocumentID      string    `json:"document_id"`
	SchemaName      string    `json:"schema_name"`
	TotalAttempts   int       `json:"total_attempts"`
	LastErrorKind   Outcome   `json:"last_error_kind"`
	LastErrorDetail string    `json:"last_error_detail"`
	FailedAt        time.Time `json:"failed_at"`
	SourcePath      *string   `json:"source_path,omitempty"`
}

// SchemaStats aggregates stored records for one schema variant.
type SchemaStats struct {
	SchemaName        string  `json:"schema_name"`
	Records           int     `json:"records"`
	AverageConfidence float64 `json:"average_confidence"`
}

// StoreStats summarizes the contents of a store.
type StoreStats struct {
	Records           int             `json:"records"`
	Failures          int             `json:"failures"`
	AverageConfidence float64         `json:"average_confidence"`
	BySchema          []SchemaStats   `json:"by_schema"`
	FailuresByKind    map[Outcome]int `json:"failures_by_kind"`
}
