package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/report"
	"github.com/sells-group/extract-cli/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored extraction records",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored records, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		reg, err := initRegistry("")
		if err != nil {
			return err
		}
		st, err := openStore(ctx, reg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		schemaName, _ := cmd.Flags().GetString("schema")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		recs, err := st.List(ctx, store.RecordFilter{SchemaName: schemaName, Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "records list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, recs)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		reg, err := initRegistry("")
		if err != nil {
			return err
		}
		st, err := openStore(ctx, reg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.Get(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return eris.Errorf("no record for document %q", args[0])
		}
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- records stats --

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate record and failure statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		reg, err := initRegistry("")
		if err != nil {
			return err
		}
		st, err := openStore(ctx, reg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "records stats")
		}

		formatStats(os.Stdout, stats)
		return nil
	},
}

// -- failures list --

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect the failure log",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents that could not be extracted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		reg, err := initRegistry("")
		if err != nil {
			return err
		}
		st, err := openStore(ctx, reg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		schemaName, _ := cmd.Flags().GetString("schema")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		if kind != "" && !model.Outcome(kind).IsFailure() {
			return eris.Errorf("unknown failure kind %q", kind)
		}

		failures, err := st.ListFailures(ctx, store.FailureFilter{
			SchemaName: schemaName,
			Kind:       model.Outcome(kind),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "failures list")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures found.")
			return nil
		}

		formatFailuresList(os.Stdout, failures)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("schema", "", "filter by schema variant")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")
	recordsListCmd.Flags().Int("offset", 0, "records to skip")

	failuresListCmd.Flags().String("schema", "", "filter by schema variant")
	failuresListCmd.Flags().String("kind", "", "filter by failure kind (parse_failure, network_failure, ...)")
	failuresListCmd.Flags().Int("limit", 50, "max number of failures to display")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsStatsCmd)
	failuresCmd.AddCommand(failuresListCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(failuresCmd)
}

// formatRecordsList writes a table of records to w.
func formatRecordsList(w io.Writer, recs []model.Record) {
	data := pterm.TableData{{"DOCUMENT", "SCHEMA", "COMPANY", "INDUSTRY", "CONFIDENCE", "ATTEMPTS", "EXTRACTED"}}
	for i := range recs {
		r := &recs[i]
		data = append(data, []string{
			r.DocumentID,
			r.SchemaName,
			truncate(r.StringField("company_name"), 30),
			truncate(r.StringField("industry"), 24),
			colorConfidence(r.Confidence),
			strconv.Itoa(r.TotalAttempts),
			r.ExtractedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	renderTable(w, data)
}

// formatFailuresList writes a table of failure-log entries to w.
func formatFailuresList(w io.Writer, failures []model.FailureReport) {
	data := pterm.TableData{{"DOCUMENT", "SCHEMA", "KIND", "ATTEMPTS", "FAILED", "DETAIL"}}
	for _, f := range failures {
		data = append(data, []string{
			f.DocumentID,
			f.SchemaName,
			string(f.LastErrorKind),
			strconv.Itoa(f.TotalAttempts),
			f.FailedAt.UTC().Format("2006-01-02 15:04"),
			truncate(f.LastErrorDetail, 60),
		})
	}
	renderTable(w, data)
}

// formatStats writes store totals and per-schema and per-kind tables to w.
func formatStats(w io.Writer, s *model.StoreStats) {
	_, _ = fmt.Fprintf(w, "Records:        %d\n", s.Records)
	_, _ = fmt.Fprintf(w, "Failures:       %d\n", s.Failures)
	_, _ = fmt.Fprintf(w, "Avg confidence: %s\n", report.Percent(s.AverageConfidence))
	_, _ = fmt.Fprintln(w)

	if len(s.BySchema) > 0 {
		data := pterm.TableData{{"SCHEMA", "RECORDS", "AVG CONFIDENCE"}}
		for _, b := range s.BySchema {
			data = append(data, []string{b.SchemaName, strconv.Itoa(b.Records), report.Percent(b.AverageConfidence)})
		}
		renderTable(w, data)
	}

	if len(s.FailuresByKind) > 0 {
		data := pterm.TableData{{"FAILURE KIND", "DOCUMENTS"}}
		for _, o := range model.AllOutcomes {
			if n := s.FailuresByKind[o]; n > 0 {
				data = append(data, []string{string(o), strconv.Itoa(n)})
			}
		}
		renderTable(w, data)
	}
}

func colorConfidence(c float64) string {
	text := report.Percent(c)
	switch report.ConfidenceBand(c) {
	case report.BandHigh:
		return pterm.Green(text)
	case report.BandMedium:
		return pterm.Yellow(text)
	default:
		return pterm.Red(text)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
