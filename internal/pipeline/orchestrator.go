// Package pipeline runs a batch of documents through extraction, lineage
// and storage with bounded concurrency, and summarizes the run.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/extract-cli/internal/extract"
	"github.com/sells-group/extract-cli/internal/lineage"
	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/store"
)

const (
	// DefaultConcurrency is the worker count when unset.
	DefaultConcurrency = 4
	// MaxConcurrency bounds the worker count.
	MaxConcurrency = 32

	writeTimeout = 30 * time.Second
)

// DocumentExtractor extracts one document against a schema.
// *extract.Extractor satisfies it.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc model.Document, schemaName string) *extract.Result
}

// Options configures an Orchestrator.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Policy      SchemaPolicy
	Now         func() time.Time
	NewRunID    func() string
	Logger      *zap.Logger

	// Progress is called once per finished document, serialized.
	Progress func(done, total int, r model.DocumentResult)
}

// Orchestrator processes document batches.
type Orchestrator struct {
	extractor DocumentExtractor
	store     store.Store
	opts      Options
	log       *zap.Logger
}

// New validates opts and creates an Orchestrator.
func New(ex DocumentExtractor, st store.Store, opts Options) (*Orchestrator, error) {
	if ex == nil {
		return nil, eris.New("pipeline: extractor is required")
	}
	if st == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency < 1 || opts.Concurrency > MaxConcurrency {
		return nil, eris.Errorf("pipeline: concurrency %d outside [1, %d]", opts.Concurrency, MaxConcurrency)
	}
	if opts.Timeout < 0 {
		return nil, eris.Errorf("pipeline: negative run timeout %s", opts.Timeout)
	}
	if opts.Policy.Mode == "" {
		opts.Policy.Mode = PolicyStrict
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.New().String() }
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Orchestrator{extractor: ex, store: st, opts: opts, log: log.Named("pipeline")}, nil
}

// Run processes docs and returns a summary counting each document exactly
// once. Per-document failures never abort the run. When ctx is cancelled
// or the run timeout fires, no new documents start and the unstarted ones
// are counted as cancelled.
func (o *Orchestrator) Run(ctx context.Context, docs []model.Document) (*model.RunSummary, error) {
	runID := o.opts.NewRunID()
	summary := model.NewRunSummary(runID, o.opts.Now())
	log := o.log.With(zap.String("run_id", runID))

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	log.Info("run started",
		zap.Int("documents", len(docs)),
		zap.Int("concurrency", o.opts.Concurrency),
		zap.String("schema_policy", o.opts.Policy.String()),
	)

	results := make([]model.DocumentResult, len(docs))
	var mu sync.Mutex
	done := 0
	finish := func(i int, r model.DocumentResult) {
		results[i] = r
		mu.Lock()
		defer mu.Unlock()
		done++
		if o.opts.Progress != nil {
			o.opts.Progress(done, len(docs), r)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, doc := range docs {
		if ctx.Err() != nil {
			finish(i, cancelledResult(doc, ""))
			continue
		}
		g.Go(func() error {
			finish(i, o.process(ctx, doc, log))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		summary.Add(r)
	}
	summary.FinishedAt = o.opts.Now()
	summary.Cancelled = ctx.Err() != nil

	log.Info("run complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Float64("average_confidence", summary.AverageConfidence),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return summary, nil
}

// process runs one document end to end. Writes use a context detached from
// cancellation so a finished extraction is stored whole or not at all.
func (o *Orchestrator) process(ctx context.Context, doc model.Document, runLog *zap.Logger) model.DocumentResult {
	log := runLog.With(zap.String("document_id", doc.ID))

	schemaName, ok := o.opts.Policy.Resolve(doc)
	if ctx.Err() != nil {
		return cancelledResult(doc, schemaName)
	}

	var res *extract.Result
	if ok {
		res = o.extractor.Extract(ctx, doc, schemaName)
	} else {
		res = &extract.Result{
			DocumentID: doc.ID,
			Outcome:    model.OutcomeUnresolvedSchema,
			Detail:     "no schema hint and policy " + o.opts.Policy.String() + " does not pick one",
		}
	}

	r := model.DocumentResult{
		DocumentID: doc.ID,
		SchemaName: res.SchemaName,
		Outcome:    res.Outcome,
		Confidence: res.Confidence,
		Attempts:   len(res.Attempts),
	}
	if res.Outcome == model.OutcomeCancelled {
		return r
	}

	out := lineage.Record(doc, res, o.opts.Now())
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if out.Record != nil {
		if err := o.store.Upsert(writeCtx, out.Record); err != nil {
			log.Error("store record failed", zap.Error(err))
			r.Outcome = model.OutcomeStoreFailure
			r.Confidence = 0
		}
		return r
	}

	if err := o.store.RecordFailure(writeCtx, out.Failure); err != nil {
		log.Error("store failure report failed",
			zap.String("outcome", string(out.Failure.LastErrorKind)),
			zap.Error(err),
		)
	}
	return r
}

func cancelledResult(doc model.Document, schemaName string) model.DocumentResult {
	if schemaName == "" {
		schemaName = doc.SchemaHint
	}
	return model.DocumentResult{
		DocumentID: doc.ID,
		SchemaName: schemaName,
		Outcome:    model.OutcomeCancelled,
	}
}
