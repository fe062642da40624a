package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/extract-cli/internal/extract"
	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/pipeline"
	"github.com/sells-group/extract-cli/internal/report"
	"github.com/sells-group/extract-cli/internal/resilience"
	"github.com/sells-group/extract-cli/internal/source"
	"github.com/sells-group/extract-cli/pkg/completion"
)

var (
	runDir         string
	runManifest    string
	runSchemas     string
	runPolicy      string
	runConcurrency int
	runTimeout     time.Duration
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract records from every document in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := executeRun(ctx, !runJSON)
		if err != nil {
			return err
		}
		if summary == nil {
			pterm.Warning.Printfln("No documents found in %s", firstNonEmpty(runDir, cfg.Source.Dir))
			return nil
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		} else {
			formatSummary(os.Stdout, summary)
		}

		if summary.Cancelled {
			return eris.Errorf("run %s cancelled after %d of %d documents finished",
				summary.RunID, summary.Total-summary.ByOutcome[model.OutcomeCancelled], summary.Total)
		}
		return nil
	},
}

// executeRun reads the configured documents and runs them through the
// pipeline. It returns a nil summary when there is nothing to extract.
func executeRun(ctx context.Context, showProgress bool) (*model.RunSummary, error) {
	reg, err := initRegistry(runSchemas)
	if err != nil {
		return nil, err
	}

	policy, err := pipeline.ParsePolicy(firstNonEmpty(runPolicy, cfg.Extract.SchemaPolicy))
	if err != nil {
		return nil, err
	}

	docs, err := readDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	st, err := openStore(ctx, reg)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	client, err := initCompletion()
	if err != nil {
		return nil, err
	}

	ex := extract.New(client, reg, extract.Options{
		MaxAttempts:  cfg.Extract.MaxAttempts,
		CallTimeout:  cfg.Completion.Timeout(),
		ModelVersion: cfg.Completion.ModelVersion,
		Backoff:      cfg.Extract.Backoff(),
		Logger:       zap.L(),
	})

	concurrency := runConcurrency
	if concurrency == 0 {
		concurrency = cfg.Run.Concurrency
	}
	timeout := runTimeout
	if timeout == 0 {
		timeout = cfg.Run.Timeout()
	}

	var bar *pterm.ProgressbarPrinter
	if showProgress {
		bar, _ = pterm.DefaultProgressbar.WithTotal(len(docs)).WithTitle("Extracting").Start()
	}

	orch, err := pipeline.New(ex, st, pipeline.Options{
		Concurrency: concurrency,
		Timeout:     timeout,
		Policy:      policy,
		Logger:      zap.L(),
		Progress: func(done, total int, r model.DocumentResult) {
			if bar != nil {
				bar.UpdateTitle(r.DocumentID)
				bar.Increment()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	summary, err := orch.Run(ctx, docs)
	if bar != nil {
		_, _ = bar.Stop()
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline run")
	}
	return summary, nil
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "document directory (default from config)")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "YAML manifest with per-document schema hints")
	runCmd.Flags().StringVar(&runSchemas, "schemas", "", "YAML file with additional schema variants")
	runCmd.Flags().StringVar(&runPolicy, "schema-policy", "", "strict, infer, or default:<Schema>")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "documents processed in parallel (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run timeout, e.g. 10m (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}

func readDocuments(ctx context.Context) ([]model.Document, error) {
	maxBytes, err := cfg.Source.MaxBytesValue()
	if err != nil {
		return nil, err
	}

	opts := source.Options{
		Dir:      firstNonEmpty(runDir, cfg.Source.Dir),
		MaxBytes: maxBytes,
		Logger:   zap.L(),
	}
	if path := firstNonEmpty(runManifest, cfg.Source.Manifest); path != "" {
		m, err := source.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		opts.Manifest = m
	}

	docs, err := source.ReadDir(ctx, opts)
	if err != nil {
		return nil, eris.Wrap(err, "read documents")
	}
	return docs, nil
}

// initCompletion builds the shared endpoint client: one rate limiter and
// one circuit breaker for every worker.
func initCompletion() (completion.Client, error) {
	var limiter *completion.AdaptiveLimiter
	if cfg.Completion.RatePerSec > 0 {
		limiter = completion.NewAdaptiveLimiter(cfg.Completion.RatePerSec, 1)
	}

	client, err := completion.New(completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		Token:       cfg.Completion.Token,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Limiter:     limiter,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init completion client")
	}

	zap.L().Info("completion client ready",
		zap.Stringer("config", cfg.Completion),
		zap.Float64("rate_per_sec", cfg.Completion.RatePerSec),
	)

	if cfg.Completion.BreakerThreshold == 0 {
		return client, nil
	}
	breakerCfg := cfg.Completion.Breaker()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("completion circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return completion.WithBreaker(client, resilience.NewCircuitBreaker(breakerCfg)), nil
}

// formatSummary writes the run summary and a per-outcome table to w.
func formatSummary(w io.Writer, s *model.RunSummary) {
	_, _ = fmt.Fprintf(w, "Run %s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "  Documents:      %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Succeeded:      %d (%s)\n", s.Succeeded, report.Percent(s.SuccessRate()))
	_, _ = fmt.Fprintf(w, "  Failed:         %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Avg confidence: %.2f\n", s.AverageConfidence)
	_, _ = fmt.Fprintf(w, "  Attempts:       %d\n", s.TotalAttempts)
	if !s.FinishedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "  Duration:       %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if s.Cancelled {
		_, _ = fmt.Fprintln(w, "  Cancelled:      yes")
	}
	_, _ = fmt.Fprintln(w)

	data := pterm.TableData{{"OUTCOME", "DOCUMENTS"}}
	for _, o := range model.AllOutcomes {
		if n := s.ByOutcome[o]; n > 0 {
			data = append(data, []string{string(o), fmt.Sprintf("%d", n)})
		}
	}
	renderTable(w, data)
}

// renderTable writes data as a table with a header row.
func renderTable(w io.Writer, data pterm.TableData) {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		_, _ = fmt.Fprintln(w, err)
		return
	}
	_, _ = fmt.Fprintln(w, out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
