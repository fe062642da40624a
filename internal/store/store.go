// Package store persists extraction records and the failure log.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/schema"
)

// ErrNotFound is returned when no record exists for a document.
var ErrNotFound = eris.New("store: record not found")

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	SchemaName string        `json:"schema_name,omitempty"`
	Outcome    model.Outcome `json:"outcome,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// FailureFilter specifies criteria for listing failure-log entries.
type FailureFilter struct {
	SchemaName string        `json:"schema_name,omitempty"`
	Kind       model.Outcome `json:"kind,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// Store defines the persistence interface for extraction results.
// Implementations are safe for concurrent use.
type Store interface {
	// Records
	Upsert(ctx context.Context, rec *model.Record) error
	Get(ctx context.Context, documentID string) (*model.Record, error)
	List(ctx context.Context, filter RecordFilter) ([]model.Record, error)

	// Failure log
	RecordFailure(ctx context.Context, fr *model.FailureReport) error
	ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureReport, error)

	Stats(ctx context.Context) (*model.StoreStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

func checkRecord(rec *model.Record) error {
	switch {
	case rec == nil:
		return eris.New("store: nil record")
	case rec.DocumentID == "":
		return eris.New("store: record has no document id")
	case rec.Outcome != model.OutcomeSuccess:
		return eris.Errorf("store: record %s has outcome %s", rec.DocumentID, rec.Outcome)
	case rec.Confidence < 0 || rec.Confidence > 1:
		return eris.Errorf("store: record %s confidence %v outside [0, 1]", rec.DocumentID, rec.Confidence)
	}
	return nil
}

func checkFailure(fr *model.FailureReport) error {
	switch {
	case fr == nil:
		return eris.New("store: nil failure report")
	case fr.DocumentID == "":
		return eris.New("store: failure report has no document id")
	case !fr.LastErrorKind.Valid() || !fr.LastErrorKind.IsFailure():
		return eris.Errorf("store: failure report %s has kind %s", fr.DocumentID, fr.LastErrorKind)
	}
	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal fields")
	}
	return string(b), nil
}

// shaper projects stored field blobs onto the current variant shape.
type shaper struct {
	registry *schema.Registry
}

// decode reads a fields blob. Keys the variant no longer declares are
// dropped and declared keys missing from older rows read as nil. Unknown
// variants are returned as stored. Integer fields come back as int64 so
// values above 2^53 survive the round trip.
func (s shaper) decode(schemaName string, blob []byte) (map[string]any, error) {
	var stored map[string]any
	if len(blob) > 0 {
		dec := json.NewDecoder(bytes.NewReader(blob))
		dec.UseNumber()
		if err := dec.Decode(&stored); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal fields")
		}
	}
	if stored == nil {
		stored = map[string]any{}
	}
	var v schema.Variant
	var err error
	if s.registry != nil {
		v, err = s.registry.VariantFor(schemaName)
	}
	if s.registry == nil || err != nil {
		for k, val := range stored {
			stored[k] = plainNumbers(val)
		}
		return stored, nil
	}
	return restoreFields(v.Fields, stored), nil
}

func restoreFields(fields []schema.Field, stored map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Name] = restoreValue(f, stored[f.Name])
	}
	return out
}

func restoreValue(f schema.Field, val any) any {
	switch f.Type {
	case schema.TypeInteger:
		if n, ok := val.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i
			}
		}
	case schema.TypeObjectList:
		items, ok := val.([]any)
		if !ok || len(f.Items) == 0 {
			break
		}
		out := make([]any, len(items))
		for i, it := range items {
			obj, ok := it.(map[string]any)
			if !ok {
				out[i] = plainNumbers(it)
				continue
			}
			out[i] = restoreFields(f.Items, obj)
		}
		return out
	}
	return plainNumbers(val)
}

// plainNumbers converts json.Number values to float64.
func plainNumbers(val any) any {
	switch t := val.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		for i, it := range t {
			t[i] = plainNumbers(it)
		}
		return t
	case map[string]any:
		for k, it := range t {
			t[k] = plainNumbers(it)
		}
		return t
	default:
		return val
	}
}
