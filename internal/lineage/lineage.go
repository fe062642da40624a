// Package lineage folds the attempts made for one document into the
// durable shape handed to the store: a record on success, a failure report
// otherwise.
package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sells-group/extract-cli/internal/extract"
	"github.com/sells-group/extract-cli/internal/model"
)

// Outcome holds exactly one of Record or Failure.
type Outcome struct {
	Record  *model.Record
	Failure *model.FailureReport
}

// Succeeded reports whether the outcome carries a record.
func (o Outcome) Succeeded() bool { return o.Record != nil }

// Record builds the lineage for doc from its extraction result. failedAt
// stamps failures that never reached an attempt; otherwise the last
// attempt's finish time is used.
func Record(doc model.Document, res *extract.Result, failedAt time.Time) Outcome {
	path := sourcePath(doc)

	if res.Succeeded() {
		sum := Checksum(doc.Text)
		return Outcome{Record: &model.Record{
			DocumentID:    doc.ID,
			SchemaName:    res.SchemaName,
			Fields:        res.Fields,
			Confidence:    res.Confidence,
			ModelVersion:  res.ModelVersion,
			ExtractedAt:   res.ExtractedAt,
			TotalAttempts: len(res.Attempts),
			Outcome:       model.OutcomeSuccess,
			RecordVersion: model.RecordVersion,
			SourcePath:    path,
			SourceSHA256:  &sum,
		}}
	}

	fr := &model.FailureReport{
		DocumentID:      doc.ID,
		SchemaName:      res.SchemaName,
		TotalAttempts:   len(res.Attempts),
		LastErrorKind:   res.Outcome,
		LastErrorDetail: res.Detail,
		FailedAt:        failedAt,
		SourcePath:      path,
	}
	if last := res.Last(); last != nil {
		fr.LastErrorDetail = last.ErrorDetail
		if !last.FinishedAt.IsZero() {
			fr.FailedAt = last.FinishedAt
		}
	}
	return Outcome{Failure: fr}
}

// Checksum returns the hex SHA-256 of the document text.
func Checksum(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func sourcePath(doc model.Document) *string {
	if doc.Path == "" {
		return nil
	}
	p := doc.Path
	return &p
}
