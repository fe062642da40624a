// Package report renders stored extraction records as an XLSX workbook or
// a standalone HTML page.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/schema"
)

// Input is the read-only data a report is built from.
type Input struct {
	Records  []model.Record
	Failures []model.FailureReport

	// Registry orders per-schema columns; records of unregistered schemas
	// fall back to sorted field names.
	Registry *schema.Registry

	// Now stamps the report; defaults to time.Now.
	Now func() time.Time
}

func (in Input) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

// AverageConfidence is the mean confidence over records, 0 when empty.
func (in Input) AverageConfidence() float64 {
	if len(in.Records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range in.Records {
		sum += r.Confidence
	}
	return sum / float64(len(in.Records))
}

// Band buckets a confidence score for display.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// ConfidenceBand returns high at 0.9 and above, medium at 0.7 and above,
// low otherwise.
func ConfidenceBand(c float64) Band {
	switch {
	case c >= 0.9:
		return BandHigh
	case c >= 0.7:
		return BandMedium
	default:
		return BandLow
	}
}

// Percent formats a confidence as a whole percentage.
func Percent(c float64) string {
	return strconv.Itoa(int(math.Round(c*100))) + "%"
}

// fieldNames returns the column order for a schema: declared order when
// registered, else the sorted union of keys seen in recs.
func fieldNames(reg *schema.Registry, schemaName string, recs []model.Record) []string {
	if reg != nil {
		if v, err := reg.VariantFor(schemaName); err == nil {
			names := make([]string, 0, len(v.Fields))
			for _, f := range v.Fields {
				names = append(names, f.Name)
			}
			return names
		}
	}
	seen := map[string]bool{}
	var names []string
	for _, r := range recs {
		for k := range r.Fields {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// groupBySchema returns records grouped by schema name, names sorted.
func groupBySchema(recs []model.Record) ([]string, map[string][]model.Record) {
	groups := map[string][]model.Record{}
	for _, r := range recs {
		groups[r.SchemaName] = append(groups[r.SchemaName], r)
	}
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, groups
}

// FormatValue renders a stored field value as display text. Lists of
// strings are joined with "; ", objects render as "k: v" pairs, and
// integral numbers get thousands separators.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return humanize.Comma(int64(t))
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return humanize.Comma(int64(t))
	case int64:
		return humanize.Comma(t)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, "; ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, "; ")
	case []map[string]any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if t[k] == nil {
				continue
			}
			parts = append(parts, k+": "+FormatValue(t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
