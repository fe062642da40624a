package report

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names written by WriteXLSX.
const (
	SheetRecords  = "Records"
	SheetFailures = "Failures"
)

var recordHeader = []string{
	"document_id", "schema_name", "company_name", "industry", "confidence_score",
	"model_version", "extracted_at", "total_attempts", "source_path",
}

var failureHeader = []string{
	"document_id", "schema_name", "last_error_kind", "last_error_detail",
	"total_attempts", "failed_at",
}

// WriteXLSX writes a workbook with a Records overview sheet, one sheet per
// schema with a column per declared field, and a Failures sheet.
func WriteXLSX(w io.Writer, in Input) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetRecords)
	if err != nil {
		return eris.Wrap(err, "xlsx: add records sheet")
	}
	addStrings(sheet, recordHeader)
	for _, r := range in.Records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.DocumentID)
		row.AddCell().SetString(r.SchemaName)
		row.AddCell().SetString(r.StringField("company_name"))
		row.AddCell().SetString(r.StringField("industry"))
		row.AddCell().SetFloat(r.Confidence)
		row.AddCell().SetString(r.ModelVersion)
		row.AddCell().SetString(r.ExtractedAt.UTC().Format(time.RFC3339))
		row.AddCell().SetInt(r.TotalAttempts)
		path := ""
		if r.SourcePath != nil {
			path = *r.SourcePath
		}
		row.AddCell().SetString(path)
	}

	names, groups := groupBySchema(in.Records)
	for _, name := range names {
		recs := groups[name]
		cols := fieldNames(in.Registry, name, recs)
		sheet, err := f.AddSheet(sheetName(name))
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet for %s", name)
		}
		addStrings(sheet, append([]string{"document_id"}, cols...))
		for _, r := range recs {
			row := sheet.AddRow()
			row.AddCell().SetString(r.DocumentID)
			for _, c := range cols {
				row.AddCell().SetString(FormatValue(r.Fields[c]))
			}
		}
	}

	sheet, err = f.AddSheet(SheetFailures)
	if err != nil {
		return eris.Wrap(err, "xlsx: add failures sheet")
	}
	addStrings(sheet, failureHeader)
	for _, fr := range in.Failures {
		row := sheet.AddRow()
		row.AddCell().SetString(fr.DocumentID)
		row.AddCell().SetString(fr.SchemaName)
		row.AddCell().SetString(string(fr.LastErrorKind))
		row.AddCell().SetString(fr.LastErrorDetail)
		row.AddCell().SetInt(fr.TotalAttempts)
		row.AddCell().SetString(fr.FailedAt.UTC().Format(time.RFC3339))
	}

	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

func addStrings(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// sheetName trims a schema name to the 31-character sheet name limit.
func sheetName(schemaName string) string {
	if len(schemaName) > 31 {
		return schemaName[:31]
	}
	return schemaName
}
