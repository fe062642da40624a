// Package extract runs the per-document extraction state machine: prompt,
// complete, parse, validate, and retry with backoff when the failure is
// worth retrying.
package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/resilience"
	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/pkg/completion"
)

// DefaultMaxAttempts bounds the attempts per document when unset.
const DefaultMaxAttempts = 3

// DefaultCallTimeout bounds a single completion call when unset.
const DefaultCallTimeout = 60 * time.Second

// Options configures an Extractor.
type Options struct {
	MaxAttempts  int
	CallTimeout  time.Duration
	ModelVersion string
	Backoff      resilience.Backoff
	Sleeper      resilience.Sleeper
	Now          func() time.Time
	Logger       *zap.Logger

	// OnState observes every state transition; nil disables it.
	OnState func(documentID string, s State)
}

// Result is the terminal outcome of one document.
type Result struct {
	DocumentID   string
	SchemaName   string
	Outcome      model.Outcome
	Attempts     []model.Attempt
	Fields       map[string]any
	Confidence   float64
	ModelVersion string
	ExtractedAt  time.Time

	// Detail explains a failure that happened before any attempt was made.
	Detail string
}

// Succeeded reports whether the document produced a validated record.
func (r *Result) Succeeded() bool {
	return r.Outcome == model.OutcomeSuccess
}

// Last returns the final attempt, or nil when none was made.
func (r *Result) Last() *model.Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}

// Extractor turns one document into a validated record or a classified
// failure. Safe for concurrent use; each call owns its attempts.
type Extractor struct {
	client   completion.Client
	registry *schema.Registry
	opts     Options
	log      *zap.Logger
}

// New creates an Extractor.
func New(client completion.Client, registry *schema.Registry, opts Options) *Extractor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Sleeper == nil {
		opts.Sleeper = resilience.ContextSleeper{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Extractor{
		client:   client,
		registry: registry,
		opts:     opts,
		log:      log.Named("extract"),
	}
}

// MaxAttempts returns the configured attempt bound.
func (e *Extractor) MaxAttempts() int { return e.opts.MaxAttempts }

// Extract runs the state machine for doc against the named schema. It never
// returns an error: every failure is folded into the Result's Outcome.
func (e *Extractor) Extract(ctx context.Context, doc model.Document, schemaName string) *Result {
	res := &Result{
		DocumentID:   doc.ID,
		SchemaName:   schemaName,
		ModelVersion: e.opts.ModelVersion,
	}
	log := e.log.With(zap.String("document_id", doc.ID), zap.String("schema", schemaName))
	e.transition(doc.ID, StatePending)

	variant, err := e.registry.VariantFor(schemaName)
	if err != nil {
		return e.fail(res, model.OutcomeUnknownSchema, err.Error(), log)
	}
	contract, err := e.registry.PromptContract(schemaName)
	if err != nil {
		return e.fail(res, model.OutcomeUnknownSchema, err.Error(), log)
	}

	// Built once so every attempt sends byte-identical prompts.
	systemPrompt := SystemPrompt(contract)
	userPrompt := UserPrompt(doc.Text)

	var hint time.Duration
	for n := 1; n <= e.opts.MaxAttempts; n++ {
		var delay time.Duration
		if n > 1 {
			e.transition(doc.ID, StateRetrying)
			delay = e.opts.Backoff.DelayWithHint(n-1, hint)
			log.Warn("retrying extraction",
				zap.Int("attempt", n),
				zap.Duration("backoff", delay),
				zap.String("last_outcome", string(res.Last().Outcome)),
			)
			if err := e.opts.Sleeper.Sleep(ctx, delay); err != nil {
				return e.fail(res, model.OutcomeCancelled, "cancelled during backoff: "+err.Error(), log)
			}
		}
		if err := ctx.Err(); err != nil {
			return e.fail(res, model.OutcomeCancelled, "cancelled before attempt: "+err.Error(), log)
		}

		attempt, fields, err := e.attempt(ctx, doc, variant, systemPrompt, userPrompt, n, delay)
		res.Attempts = append(res.Attempts, attempt)

		if err == nil {
			res.Outcome = model.OutcomeSuccess
			res.Fields = fields
			res.Confidence = *attempt.Confidence
			res.ExtractedAt = attempt.FinishedAt
			e.transition(doc.ID, StateSucceeded)
			log.Info("extraction succeeded",
				zap.Int("attempts", n),
				zap.Float64("confidence", res.Confidence),
			)
			return res
		}

		if attempt.Outcome == model.OutcomeCancelled {
			return e.fail(res, model.OutcomeCancelled, attempt.ErrorDetail, log)
		}
		if Classify(err) == resilience.Terminal {
			return e.fail(res, attempt.Outcome, attempt.ErrorDetail, log)
		}
		hint = retryAfter(err)
	}

	last := res.Last()
	return e.fail(res, last.Outcome, last.ErrorDetail, log)
}

// attempt performs one prompt/complete/parse/validate cycle.
func (e *Extractor) attempt(ctx context.Context, doc model.Document, variant schema.Variant, systemPrompt, userPrompt string, n int, delay time.Duration) (model.Attempt, map[string]any, error) {
	a := model.Attempt{
		DocumentID: doc.ID,
		SchemaName: variant.Name,
		Number:     n,
		Backoff:    delay,
		StartedAt:  e.opts.Now(),
	}
	finish := func(outcome model.Outcome, err error) (model.Attempt, map[string]any, error) {
		a.Outcome = outcome
		a.ErrorDetail = err.Error()
		a.FinishedAt = e.opts.Now()
		return a, nil, err
	}

	e.transition(doc.ID, StatePrompting)
	e.transition(doc.ID, StateAwaitingCompletion)
	raw, err := e.client.Complete(ctx, systemPrompt, userPrompt, e.opts.CallTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return finish(model.OutcomeCancelled, err)
		}
		return finish(model.OutcomeNetworkFailure, err)
	}
	a.RawOutput = raw

	e.transition(doc.ID, StateParsing)
	obj, err := ParseObject(raw)
	if err != nil {
		return finish(outcomeFor(err), err)
	}
	a.Parsed = obj

	e.transition(doc.ID, StateValidating)
	fields, err := variant.Validate(obj)
	if err != nil {
		return finish(outcomeFor(err), err)
	}

	conf, _ := schema.Confidence(fields)
	a.Confidence = &conf
	a.Outcome = model.OutcomeSuccess
	a.FinishedAt = e.opts.Now()
	return a, fields, nil
}

func (e *Extractor) fail(res *Result, outcome model.Outcome, detail string, log *zap.Logger) *Result {
	res.Outcome = outcome
	if len(res.Attempts) == 0 {
		res.Detail = detail
	}
	e.transition(res.DocumentID, StateFailed)
	log.Warn("extraction failed",
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", len(res.Attempts)),
		zap.String("detail", detail),
	)
	return res
}

func (e *Extractor) transition(documentID string, s State) {
	if e.opts.OnState != nil {
		e.opts.OnState(documentID, s)
	}
}
