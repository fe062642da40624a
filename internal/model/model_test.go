package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_Valid(t *testing.T) {
	for _, o := range AllOutcomes {
		assert.True(t, o.Valid(), "%s should be valid", o)
	}
	assert.False(t, Outcome("exploded").Valid())
	assert.False(t, Outcome("").Valid())
}

func TestOutcome_IsFailure(t *testing.T) {
	assert.False(t, OutcomeSuccess.IsFailure())
	assert.False(t, Outcome("").IsFailure())
	assert.True(t, OutcomeParseFailure.IsFailure())
	assert.True(t, OutcomeCancelled.IsFailure())
	assert.True(t, OutcomeStoreFailure.IsFailure())
}

func TestRunSummary_Add(t *testing.T) {
	s := NewRunSummary("run-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Add(DocumentResult{DocumentID: "a", Outcome: OutcomeSuccess, Confidence: 0.9, Attempts: 1})
	s.Add(DocumentResult{DocumentID: "b", Outcome: OutcomeSuccess, Confidence: 0.6, Attempts: 2})
	s.Add(DocumentResult{DocumentID: "c", Outcome: OutcomeNetworkFailure, Attempts: 3})
	s.Add(DocumentResult{DocumentID: "d", Outcome: OutcomeCancelled})

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 6, s.TotalAttempts)
	assert.InDelta(t, 0.75, s.AverageConfidence, 1e-9)
	assert.Equal(t, 1, s.ByOutcome[OutcomeNetworkFailure])
	assert.Equal(t, 1, s.ByOutcome[OutcomeCancelled])
	assert.InDelta(t, 0.5, s.SuccessRate(), 1e-9)
}

func TestRunSummary_Empty(t *testing.T) {
	s := NewRunSummary("run-2", time.Now())
	assert.Zero(t, s.SuccessRate())
	assert.Zero(t, s.AverageConfidence)
}

func TestRecord_StringField(t *testing.T) {
	r := &Record{Fields: map[string]any{"company_name": "Acme", "employee_count": int64(5)}}
	assert.Equal(t, "Acme", r.StringField("company_name"))
	assert.Equal(t, "", r.StringField("employee_count"))
	assert.Equal(t, "", r.StringField("missing"))

	var nilRec *Record
	assert.Equal(t, "", nilRec.StringField("company_name"))
}

func TestAttempt_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Attempt{StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)}
	assert.Equal(t, 1500*time.Millisecond, a.Duration())
	assert.Zero(t, Attempt{StartedAt: start}.Duration())
}
