package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/extract-cli/internal/report"
	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/internal/store"
)

const exportPageSize = 500

var (
	exportOut    string
	exportSchema string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records and failures",
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx",
	Short: "Write an Excel workbook with one sheet per schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runExport(cmd.Context(), firstNonEmpty(exportOut, "extractions.xlsx"), report.WriteXLSX)
	},
}

var exportHTMLCmd = &cobra.Command{
	Use:   "html",
	Short: "Write a self-contained HTML report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runExport(cmd.Context(), firstNonEmpty(exportOut, "extraction_report.html"), report.WriteHTML)
	},
}

func init() {
	exportCmd.PersistentFlags().StringVarP(&exportOut, "out", "o", "", "output file")
	exportCmd.PersistentFlags().StringVar(&exportSchema, "schema", "", "only export records of this schema variant")

	exportCmd.AddCommand(exportXLSXCmd)
	exportCmd.AddCommand(exportHTMLCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, path string, write func(io.Writer, report.Input) error) error {
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

	in, err := loadReportInput(ctx, st, reg, exportSchema)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := write(f, in); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "export: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}

	size := ""
	if fi, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	pterm.Success.Printfln("Wrote %s (%d records, %d failures, %s)", path, len(in.Records), len(in.Failures), size)
	return nil
}

// loadReportInput pages through every record and failure in st.
func loadReportInput(ctx context.Context, st store.Store, reg *schema.Registry, schemaName string) (report.Input, error) {
	in := report.Input{Registry: reg}

	for offset := 0; ; offset += exportPageSize {
		page, err := st.List(ctx, store.RecordFilter{SchemaName: schemaName, Limit: exportPageSize, Offset: offset})
		if err != nil {
			return in, eris.Wrap(err, "export: list records")
		}
		in.Records = append(in.Records, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	for offset := 0; ; offset += exportPageSize {
		page, err := st.ListFailures(ctx, store.FailureFilter{SchemaName: schemaName, Limit: exportPageSize, Offset: offset})
		if err != nil {
			return in, eris.Wrap(err, "export: list failures")
		}
		in.Failures = append(in.Failures, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	return in, nil
}
