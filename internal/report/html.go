package report

import (
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-cli/internal/model"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// summaryFields are shown in the card header, not repeated in the body.
var summaryFields = map[string]bool{
	"company_name":     true,
	"industry":         true,
	"confidence_score": true,
}

type htmlField struct {
	Name  string
	Value string
}

type htmlCard struct {
	DocumentID   string
	Title        string
	Industry     string
	SchemaName   string
	Band         Band
	Confidence   string
	Source       string
	ModelVersion string
	ExtractedAt  string
	ExtractedAgo string
	Attempts     int
	Fields       []htmlField
	JSON         string
}

type htmlPage struct {
	GeneratedAt       string
	RecordCount       int
	Total             int
	AverageConfidence string
	Cards             []htmlCard
	Failures          []model.FailureReport
}

// WriteHTML renders a standalone HTML page: summary stats, one card per
// record coloured by confidence band, and the failure log.
func WriteHTML(w io.Writer, in Input) error {
	now := in.now()
	page := htmlPage{
		GeneratedAt:       now.UTC().Format(time.RFC1123),
		RecordCount:       len(in.Records),
		Total:             len(in.Records) + len(in.Failures),
		AverageConfidence: Percent(in.AverageConfidence()),
		Failures:          in.Failures,
	}

	for _, r := range in.Records {
		card := htmlCard{
			DocumentID:   r.DocumentID,
			Title:        r.StringField("company_name"),
			Industry:     r.StringField("industry"),
			SchemaName:   r.SchemaName,
			Band:         ConfidenceBand(r.Confidence),
			Confidence:   Percent(r.Confidence),
			Source:       r.DocumentID,
			ModelVersion: r.ModelVersion,
			ExtractedAt:  r.ExtractedAt.UTC().Format(time.RFC3339),
			ExtractedAgo: humanize.RelTime(r.ExtractedAt, now, "ago", "from now"),
			Attempts:     r.TotalAttempts,
		}
		if card.Title == "" {
			card.Title = r.DocumentID
		}
		if r.SourcePath != nil {
			card.Source = filepath.Base(*r.SourcePath)
		}
		for _, name := range fieldNames(in.Registry, r.SchemaName, []model.Record{r}) {
			if summaryFields[name] {
				continue
			}
			v := FormatValue(r.Fields[name])
			if v == "" {
				v = "N/A"
			}
			card.Fields = append(card.Fields, htmlField{Name: name, Value: v})
		}
		raw, err := json.MarshalIndent(r.Fields, "", "  ")
		if err != nil {
			return eris.Wrapf(err, "html: marshal fields for %s", r.DocumentID)
		}
		card.JSON = string(raw)
		page.Cards = append(page.Cards, card)
	}

	return eris.Wrap(htmlTemplate.Execute(w, page), "html: render report")
}
