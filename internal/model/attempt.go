package model

import "time"

// Attempt is one prompt/complete/parse/validate cycle for a document.
// It is terminal once Outcome is set.
type Attempt struct {
	DocumentID  string         `json:"document_id"`
	SchemaName  string         `json:"schema_name"`
	Number      int            `json:"number"`
	RawOutput   string         `json:"raw_output,omitempty"`
	Parsed      map[string]any `json:"parsed,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Backoff     time.Duration  `json:"backoff"` // delay waited before this attempt
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Duration returns how long the attempt took.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
