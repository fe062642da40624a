package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-cli/internal/extract"
	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/resilience"
	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/internal/store"
)

var runStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// extractorFunc adapts a function to DocumentExtractor.
type extractorFunc func(ctx context.Context, doc model.Document, schemaName string) *extract.Result

func (f extractorFunc) Extract(ctx context.Context, doc model.Document, schemaName string) *extract.Result {
	return f(ctx, doc, schemaName)
}

// completionFunc adapts a function to completion.Client.
type completionFunc func(ctx context.Context, system, user string) (string, error)

func (f completionFunc) Complete(ctx context.Context, system, user string, _ time.Duration) (string, error) {
	return f(ctx, system, user)
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// memStore is an in-memory store.Store with injectable write errors.
type memStore struct {
	mu        sync.Mutex
	records   map[string]model.Record
	failures  map[string]model.FailureReport
	upserts   int
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]model.Record{}, failures: map[string]model.FailureReport{}}
}

func (m *memStore) Upsert(_ context.Context, rec *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[rec.DocumentID] = *rec
	delete(m.failures, rec.DocumentID)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (m *memStore) List(context.Context, store.RecordFilter) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) RecordFailure(_ context.Context, fr *model.FailureReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[fr.DocumentID] = *fr
	return nil
}

func (m *memStore) ListFailures(context.Context, store.FailureFilter) ([]model.FailureReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FailureReport, 0, len(m.failures))
	for _, f := range m.failures {
		out = append(out, f)
	}
	return out, nil
}

func (m *memStore) Stats(context.Context) (*model.StoreStats, error) { return &model.StoreStats{}, nil }
func (m *memStore) Migrate(context.Context) error                    { return nil }
func (m *memStore) Close() error                                     { return nil }

func companyJSON(name string, conf float64) string {
	return fmt.Sprintf(`{"company_name":%q,"industry":"Technology","description":"A company.","confidence_score":%v}`, name, conf)
}

func newRealExtractor(client completionFunc) *extract.Extractor {
	return extract.New(client, schema.DefaultRegistry(), extract.Options{
		MaxAttempts:  3,
		CallTimeout:  time.Second,
		ModelVersion: "test-model",
		Backoff:      resilience.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1},
		Sleeper:      noSleep{},
	})
}

func docs(n int, hint string) []model.Document {
	out := make([]model.Document, n)
	for i := range out {
		out[i] = model.Document{
			ID:         fmt.Sprintf("doc-%02d", i),
			Text:       fmt.Sprintf("Company number %d", i),
			SchemaHint: hint,
		}
	}
	return out
}

func fixedOptions() Options {
	return Options{
		Concurrency: 4,
		Now:         func() time.Time { return runStart },
		NewRunID:    func() string { return "run-1" },
	}
}

func TestNew_Validation(t *testing.T) {
	ex := extractorFunc(func(context.Context, model.Document, string) *extract.Result { return nil })

	_, err := New(nil, newMemStore(), Options{})
	assert.Error(t, err)
	_, err = New(ex, nil, Options{})
	assert.Error(t, err)
	_, err = New(ex, newMemStore(), Options{Concurrency: 33})
	assert.Error(t, err)
	_, err = New(ex, newMemStore(), Options{Concurrency: -1})
	assert.Error(t, err)
	_, err = New(ex, newMemStore(), Options{Timeout: -time.Second})
	assert.Error(t, err)

	o, err := New(ex, newMemStore(), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, o.opts.Concurrency)
	assert.Equal(t, PolicyStrict, o.opts.Policy.Mode)
}

func TestRun_AllSucceedWithSQLite(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "run.db"), schema.DefaultRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	var calls atomic.Int32
	client := completionFunc(func(_ context.Context, _, user string) (string, error) {
		calls.Add(1)
		name := strings.TrimPrefix(user, "Extract structured data from this text:\n\n")
		return companyJSON(name, 0.9), nil
	})

	o, err := New(newRealExtractor(client), st, fixedOptions())
	require.NoError(t, err)

	in := docs(10, schema.CompanyProfile)
	sum, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 10, sum.Total)
	assert.Equal(t, 10, sum.Succeeded)
	assert.Equal(t, 0, sum.Failed)
	assert.InDelta(t, 0.9, sum.AverageConfidence, 1e-9)
	assert.Equal(t, 10, sum.ByOutcome[model.OutcomeSuccess])
	assert.False(t, sum.Cancelled)
	assert.Equal(t, int32(10), calls.Load())

	recs, err := st.List(context.Background(), store.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	got, err := st.Get(context.Background(), "doc-03")
	require.NoError(t, err)
	assert.Equal(t, "Company number 3", got.StringField("company_name"))
	assert.Equal(t, "test-model", got.ModelVersion)
	require.NotNil(t, got.SourceSHA256)

	// A re-run replaces records rather than adding rows.
	_, err = o.Run(context.Background(), in)
	require.NoError(t, err)
	recs, err = st.List(context.Background(), store.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 10)
}

func TestRun_OneFailureDoesNotAbort(t *testing.T) {
	st := newMemStore()
	client := completionFunc(func(_ context.Context, _, user string) (string, error) {
		if strings.HasSuffix(user, "Company number 2") {
			return "sorry, no JSON here", nil
		}
		return companyJSON("ok", 0.8), nil
	})

	o, err := New(newRealExtractor(client), st, fixedOptions())
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), docs(5, schema.CompanyProfile))
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.ByOutcome[model.OutcomeParseFailure])
	assert.Equal(t, 4+3, sum.TotalAttempts)
	assert.Len(t, st.records, 4)
	require.Contains(t, st.failures, "doc-02")
	assert.Equal(t, 3, st.failures["doc-02"].TotalAttempts)
	assert.Equal(t, model.OutcomeParseFailure, st.failures["doc-02"].LastErrorKind)
}

func TestRun_UnresolvedSchemaUnderStrictPolicy(t *testing.T) {
	st := newMemStore()
	var calls atomic.Int32
	ex := extractorFunc(func(context.Context, model.Document, string) *extract.Result {
		calls.Add(1)
		return nil
	})

	o, err := New(ex, st, fixedOptions())
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), []model.Document{{ID: "mystery", Text: "x", Path: "in/mystery.txt"}})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.ByOutcome[model.OutcomeUnresolvedSchema])
	assert.Equal(t, int32(0), calls.Load())
	fr, ok := st.failures["mystery"]
	require.True(t, ok)
	assert.Equal(t, model.OutcomeUnresolvedSchema, fr.LastErrorKind)
	assert.Equal(t, 0, fr.TotalAttempts)
	assert.Equal(t, runStart, fr.FailedAt)
	assert.Contains(t, fr.LastErrorDetail, "strict")
}

func TestRun_InferPolicyPicksSchema(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	ex := extractorFunc(func(_ context.Context, doc model.Document, name string) *extract.Result {
		mu.Lock()
		seen[doc.ID] = name
		mu.Unlock()
		return &extract.Result{DocumentID: doc.ID, SchemaName: name, Outcome: model.OutcomeValidationFailure,
			Attempts: []model.Attempt{{Number: 1, Outcome: model.OutcomeValidationFailure, ErrorDetail: "bad"}}}
	})

	opts := fixedOptions()
	opts.Policy = SchemaPolicy{Mode: PolicyInfer}
	o, err := New(ex, newMemStore(), opts)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), []model.Document{
		{ID: "acme_company"},
		{ID: "kkr_pe"},
		{ID: "plain", SchemaHint: schema.BuyerProfile},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"acme_company": schema.CompanyProfile,
		"kkr_pe":       schema.BuyerProfile,
		"plain":        schema.BuyerProfile,
	}, seen)
}

func TestRun_UnknownSchemaHint(t *testing.T) {
	st := newMemStore()
	var calls atomic.Int32
	client := completionFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", nil
	})
	o, err := New(newRealExtractor(client), st, fixedOptions())
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), docs(1, "FundProfile"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ByOutcome[model.OutcomeUnknownSchema])
	assert.Equal(t, model.OutcomeUnknownSchema, st.failures["doc-00"].LastErrorKind)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRun_StoreFailureCounted(t *testing.T) {
	st := newMemStore()
	st.upsertErr = errors.New("disk full")
	ex := extractorFunc(func(_ context.Context, doc model.Document, name string) *extract.Result {
		conf := 0.9
		return &extract.Result{
			DocumentID: doc.ID, SchemaName: name, Outcome: model.OutcomeSuccess, Confidence: conf,
			Fields:   map[string]any{"confidence_score": conf},
			Attempts: []model.Attempt{{Number: 1, Outcome: model.OutcomeSuccess, Confidence: &conf}},
		}
	})
	o, err := New(ex, st, fixedOptions())
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), docs(3, schema.CompanyProfile))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, 3, sum.ByOutcome[model.OutcomeStoreFailure])
	assert.Equal(t, 0.0, sum.AverageConfidence)
}

func TestRun_CancellationCountsEveryDocument(t *testing.T) {
	st := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	ex := extractorFunc(func(ctx context.Context, doc model.Document, name string) *extract.Result {
		if started.Add(1) == 1 {
			cancel()
		}
		conf := 0.7
		return &extract.Result{
			DocumentID: doc.ID, SchemaName: name, Outcome: model.OutcomeSuccess, Confidence: conf,
			Fields:   map[string]any{"confidence_score": conf},
			Attempts: []model.Attempt{{Number: 1, Outcome: model.OutcomeSuccess, Confidence: &conf}},
		}
	})

	opts := fixedOptions()
	opts.Concurrency = 1
	var progress atomic.Int32
	opts.Progress = func(done, total int, _ model.DocumentResult) {
		progress.Add(1)
		assert.Equal(t, 6, total)
	}
	o, err := New(ex, st, opts)
	require.NoError(t, err)

	sum, err := o.Run(ctx, docs(6, schema.CompanyProfile))
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 5, sum.ByOutcome[model.OutcomeCancelled])
	assert.Equal(t, int32(6), progress.Load())
	// The in-flight extraction finished after cancellation and is still stored whole.
	assert.Len(t, st.records, 1)
}

func TestRun_TimeoutCancelsRun(t *testing.T) {
	ex := extractorFunc(func(ctx context.Context, doc model.Document, name string) *extract.Result {
		<-ctx.Done()
		return &extract.Result{DocumentID: doc.ID, SchemaName: name, Outcome: model.OutcomeCancelled}
	})

	opts := fixedOptions()
	opts.Concurrency = 2
	opts.Timeout = 20 * time.Millisecond
	st := newMemStore()
	o, err := New(ex, st, opts)
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), docs(5, schema.CompanyProfile))
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 5, sum.ByOutcome[model.OutcomeCancelled])
	assert.Empty(t, st.records)
	assert.Empty(t, st.failures)
}

func TestRun_EmptyBatch(t *testing.T) {
	ex := extractorFunc(func(context.Context, model.Document, string) *extract.Result { return nil })
	o, err := New(ex, newMemStore(), fixedOptions())
	require.NoError(t, err)

	sum, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Total)
	assert.Equal(t, runStart, sum.FinishedAt)
}
