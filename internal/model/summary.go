package model

import "time"

// RunSummary aggregates the outcome of one orchestrator run. Every
// submitted document is counted exactly once.
type RunSummary struct {
	RunID             string          `json:"run_id"`
	Total             int             `json:"total"`
	Succeeded         int             `json:"succeeded"`
	Failed            int             `json:"failed"`
	AverageConfidence float64         `json:"average_confidence"`
	ByOutcome         map[Outcome]int `json:"by_outcome"`
	TotalAttempts     int             `json:"total_attempts"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Cancelled         bool            `json:"cancelled"`
}

// DocumentResult is the per-document outcome folded into a RunSummary.
type DocumentResult struct {
	DocumentID string
	SchemaName string
	Outcome    Outcome
	Confidence float64
	Attempts   int
}

// NewRunSummary returns an empty summary for the given run.
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		ByOutcome: make(map[Outcome]int),
		StartedAt: startedAt,
	}
}

// Add folds one document result into the summary. Not safe for
// concurrent use; callers serialize.
func (s *RunSummary) Add(r DocumentResult) {
	s.Total++
	s.TotalAttempts += r.Attempts
	s.ByOutcome[r.Outcome]++
	if r.Outcome == OutcomeSuccess {
		s.AverageConfidence += (r.Confidence - s.AverageConfidence) / float64(s.Succeeded+1)
		s.Succeeded++
		return
	}
	s.Failed++
}

// SuccessRate returns the share of documents that succeeded, in [0,1].
func (s *RunSummary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}
